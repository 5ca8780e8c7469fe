package recorder

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
)

// toneSource emits a 1 kHz-ish square wave in 10 ms chunks until stopped
type toneSource struct {
	format Format
	stop   chan struct{}
	wg     sync.WaitGroup
}

func newToneSource(rate int) *toneSource {
	return &toneSource{format: Format{SampleRate: rate, Channels: 1, BitDepth: 16}}
}

func (s *toneSource) Format() Format { return s.format }

func (s *toneSource) Start(_ context.Context, onData func([]byte)) error {
	s.stop = make(chan struct{})
	chunk := make([]byte, s.format.BytesPerSecond()/100)
	for i := 0; i < len(chunk); i += 2 {
		v := int16(8000)
		if (i/16)%2 == 0 {
			v = -8000
		}
		chunk[i], chunk[i+1] = byte(v), byte(uint16(v)>>8)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				onData(append([]byte(nil), chunk...))
			}
		}
	}()
	return nil
}

func (s *toneSource) Stop() error {
	close(s.stop)
	s.wg.Wait()
	return nil
}

func testRecorder(src Source) *Recorder {
	return New(src, conf.RecordingSettings{
		Tick:        50 * time.Millisecond,
		MinDuration: 100 * time.Millisecond,
	})
}

func TestRecordWritesWAVAndTicks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clips", "note.wav")
	r := testRecorder(newToneSource(16000))

	var ticks []time.Duration
	clip, err := r.Record(context.Background(), path, 200*time.Millisecond, func(rem time.Duration) {
		ticks = append(ticks, rem)
	})
	require.NoError(t, err)

	assert.False(t, clip.Truncated)
	assert.Equal(t, 16000, clip.SampleRate)
	assert.Greater(t, clip.Bytes, int64(44))
	require.NotEmpty(t, ticks)
	assert.Equal(t, 200*time.Millisecond, ticks[0])
	assert.Equal(t, time.Duration(0), ticks[len(ticks)-1])

	info, err := ReadWAVInfo(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitDepth)
	assert.InDelta(t, clip.Duration.Seconds(), info.Duration.Seconds(), 0.01)
}

func TestRecordCancelledEarlyIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	r := testRecorder(newToneSource(16000))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Record(ctx, path, time.Second, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecordCancelledAfterMinimumIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kept.wav")
	r := testRecorder(newToneSource(16000))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	clip, err := r.Record(ctx, path, 10*time.Second, nil)
	require.NoError(t, err)
	assert.True(t, clip.Truncated)
	assert.GreaterOrEqual(t, clip.Duration, 100*time.Millisecond)
	assert.FileExists(t, path)
}

func TestRecordRefusesWhenDiskIsFull(t *testing.T) {
	r := testRecorder(newToneSource(16000))
	r.minFreeMB = 100
	r.freeSpace = func(string) (uint64, error) { return 10 * 1024 * 1024, nil }

	_, err := r.Record(context.Background(), filepath.Join(t.TempDir(), "x.wav"), time.Second, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDiskUsage))
}

func TestFileName(t *testing.T) {
	at := time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	name := FileName(at)

	assert.Regexp(t, regexp.MustCompile(`^ridenote_20261019_143000_[0-9a-f]{8}\.wav$`), name)
	assert.NotEqual(t, name, FileName(at))
}

func TestReadWAVInfoRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff"), 0o600))

	_, err := ReadWAVInfo(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestPCMToInts(t *testing.T) {
	assert.Equal(t, []int{1, -1, 32767, -32768}, pcmToInts([]byte{0x01, 0x00, 0xFF, 0xFF, 0xFF, 0x7F, 0x00, 0x80}))
}
