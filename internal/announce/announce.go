// Package announce speaks short prompts through a text-to-speech command.
package announce

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// waitDelay bounds how long a killed engine may hold its output pipes open
const waitDelay = 2 * time.Second

// Announcer speaks text and returns once the utterance has finished
type Announcer interface {
	Init(ctx context.Context) error
	Say(ctx context.Context, text string) error
	Close() error
}

// New returns a CommandAnnouncer, or Nop when announcements are disabled
func New(settings *conf.Settings) Announcer {
	if !settings.Announce.Enabled {
		return Nop{}
	}
	return NewCommand(settings.Announce.Command, settings.Announce.Voice)
}

// CommandAnnouncer runs a TTS binary such as espeak-ng or say once per utterance
type CommandAnnouncer struct {
	command string
	voice   string
	path    string
	log     logger.Logger
}

// NewCommand returns an announcer for the given binary and voice
func NewCommand(command, voice string) *CommandAnnouncer {
	return &CommandAnnouncer{
		command: command,
		voice:   voice,
		log:     logger.Global().Module("announce"),
	}
}

// Init resolves the binary and checks that it starts. Callers bound ctx with
// the engine start-up deadline.
func (a *CommandAnnouncer) Init(ctx context.Context) error {
	start := time.Now()

	path, err := exec.LookPath(a.command)
	if err != nil {
		return errors.New(err).
			Component("announce").
			Category(errors.CategoryAnnounce).
			Context("command", a.command).
			Build()
	}

	// espeak-ng and say both accept an empty utterance and exit at once
	cmd := exec.CommandContext(ctx, path, a.args("")...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return a.execError(ctx, err, stderr.String(), "init")
	}

	a.path = path
	a.log.Debug("speech engine ready",
		logger.String("command", path),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Say speaks text and blocks until the process exits
func (a *CommandAnnouncer) Say(ctx context.Context, text string) error {
	if a.path == "" {
		return errors.Newf("speech engine not initialised").
			Component("announce").
			Category(errors.CategoryState).
			Build()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, a.path, a.args(text)...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return a.execError(ctx, err, stderr.String(), "say")
	}
	return nil
}

// Close is a no-op; each utterance runs in its own process
func (a *CommandAnnouncer) Close() error { return nil }

func (a *CommandAnnouncer) args(text string) []string {
	var args []string
	if a.voice != "" {
		args = append(args, "-v", a.voice)
	}
	return append(args, text)
}

func (a *CommandAnnouncer) execError(ctx context.Context, err error, stderr, op string) error {
	category := errors.CategoryCommandExec
	if ctx.Err() != nil {
		category = errors.CategoryTimeout
	}
	return errors.New(err).
		Component("announce").
		Category(category).
		Context("command", a.command).
		Context("operation", op).
		Context("stderr", strings.TrimSpace(stderr)).
		Build()
}

// Nop discards announcements
type Nop struct{}

func (Nop) Init(context.Context) error        { return nil }
func (Nop) Say(context.Context, string) error { return nil }
func (Nop) Close() error                      { return nil }
