package announce

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
)

// writeScript creates an executable shell script that stands in for the TTS binary
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-tts")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return path
}

func TestSayPassesVoiceAndText(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args.txt")
	script := writeScript(t, `printf '%s|' "$@" >> `+out+`; echo >> `+out)

	a := NewCommand(script, "en-us")
	require.NoError(t, a.Init(context.Background()))
	require.NoError(t, a.Say(context.Background(), "Recording"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "-v|en-us||\n-v|en-us|Recording|\n", string(data))
}

func TestSayBeforeInit(t *testing.T) {
	err := NewCommand("espeak-ng", "").Say(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestInitMissingBinary(t *testing.T) {
	err := NewCommand("ridenote-no-such-tts", "").Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAnnounce))
}

func TestInitHonoursDeadline(t *testing.T) {
	script := writeScript(t, "exec sleep 5")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewCommand(script, "").Init(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
}

func TestFailingCommandReportsStderr(t *testing.T) {
	script := writeScript(t, `[ -z "$1" ] && exit 0; echo "no voice" >&2; exit 3`)

	a := NewCommand(script, "")
	require.NoError(t, a.Init(context.Background()))

	err := a.Say(context.Background(), "hello")
	require.Error(t, err)

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "no voice", ee.GetContext()["stderr"])
}

func TestNewReturnsNopWhenDisabled(t *testing.T) {
	s := &conf.Settings{}
	assert.IsType(t, Nop{}, New(s))

	s.Announce.Enabled = true
	s.Announce.Command = "espeak-ng"
	assert.IsType(t, &CommandAnnouncer{}, New(s))
}
