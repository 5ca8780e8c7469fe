// Package notification sends short rider-facing messages (batch summaries,
// failed uploads) through shoutrrr service URLs.
package notification

import (
	"context"
	"io"
	stdlog "log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/privacy"
)

const (
	DefaultTitle   = "RideNote"
	defaultTimeout = 15 * time.Second
)

// Sender delivers one message
type Sender interface {
	Send(ctx context.Context, title, message string) error
}

// ShoutrrrNotifier sends through a single shoutrrr router covering every URL
type ShoutrrrNotifier struct {
	urls    []string
	title   string
	sender  *router.ServiceRouter
	timeout time.Duration
	log     logger.Logger
}

// NewShoutrrrNotifier validates the service URLs and builds the router.
// Errors never contain the URLs, which usually embed tokens.
func NewShoutrrrNotifier(cfg conf.NotifySettings) (*ShoutrrrNotifier, error) {
	urls := slices.DeleteFunc(slices.Clone(cfg.URLs), func(u string) bool {
		return strings.TrimSpace(u) == ""
	})
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(privacy.ScrubError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(urls)).
			Build()
	}
	sender.Timeout = defaultTimeout
	sender.SetLogger(stdlog.New(io.Discard, "", 0))

	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		title = DefaultTitle
	}

	return &ShoutrrrNotifier{
		urls:    urls,
		title:   title,
		sender:  sender,
		timeout: defaultTimeout,
		log:     logger.Global().Module("notification"),
	}, nil
}

// Title returns the configured default title
func (s *ShoutrrrNotifier) Title() string { return s.title }

// Send delivers message to every configured service. An empty title uses the
// configured one.
func (s *ShoutrrrNotifier) Send(ctx context.Context, title, message string) error {
	if title == "" {
		title = s.title
	}
	params := stypes.Params{}
	params.SetTitle(title)

	// the router applies its own timeout; honour an already cancelled ctx
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	var firstErr error
	for _, err := range s.sender.Send(message, &params) {
		if err != nil {
			firstErr = err
			break
		}
	}
	if firstErr != nil {
		return errors.New(privacy.ScrubError(firstErr)).
			Component("notification").
			Category(errors.CategoryNotification).
			Timing("notification_send", time.Since(start)).
			Build()
	}

	s.log.Debug("notification sent", logger.Int("services", len(s.urls)))
	return nil
}
