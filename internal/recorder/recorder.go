package recorder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// Clip is a finished recording on disk
type Clip struct {
	Path       string
	Duration   time.Duration
	Bytes      int64
	SampleRate int
	Truncated  bool // stopped early by cancellation
}

// Recorder runs the countdown and writes the captured audio
type Recorder struct {
	src         Source
	tick        time.Duration
	minDuration time.Duration
	minFreeMB   uint64
	freeSpace   func(dir string) (uint64, error)
	log         logger.Logger
}

// New returns a Recorder reading from src with the recording settings
func New(src Source, cfg conf.RecordingSettings) *Recorder {
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Second
	}
	return &Recorder{
		src:         src,
		tick:        tick,
		minDuration: cfg.MinDuration,
		minFreeMB:   cfg.MinFreeMB,
		freeSpace:   freeBytes,
		log:         logger.Global().Module("recorder"),
	}
}

func freeBytes(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Record captures duration worth of audio into path, calling onTick with the
// remaining time at the start and after every tick. Cancelling ctx stops early:
// the clip is kept when it reached the minimum duration and deleted otherwise.
func (r *Recorder) Record(ctx context.Context, path string, duration time.Duration, onTick func(remaining time.Duration)) (Clip, error) {
	if duration <= 0 {
		return Clip{}, errors.Newf("recording duration must be positive, got %s", duration).
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := r.checkDiskSpace(filepath.Dir(path)); err != nil {
		return Clip{}, err
	}

	var (
		mu  sync.Mutex
		pcm []byte
	)
	format := r.src.Format()
	pcm = make([]byte, 0, int(duration.Seconds()+1)*format.BytesPerSecond())

	if err := r.src.Start(ctx, func(frames []byte) {
		mu.Lock()
		pcm = append(pcm, frames...)
		mu.Unlock()
	}); err != nil {
		return Clip{}, err
	}

	cancelled := r.countdown(ctx, duration, onTick)

	if err := r.src.Stop(); err != nil {
		r.log.Warn("failed to stop capture source", logger.Error(err))
	}

	mu.Lock()
	data := pcm
	mu.Unlock()

	captured := bytesDuration(len(data), format)
	if cancelled && captured < r.minDuration {
		r.log.Info("recording cancelled before minimum length, discarding",
			logger.Duration("captured", captured),
			logger.Duration("minimum", r.minDuration))
		return Clip{}, errors.New(ctx.Err()).
			Component("recorder").
			Category(errors.CategoryCancellation).
			Context("captured_ms", captured.Milliseconds()).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return Clip{}, errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := writeWAV(path, data, format); err != nil {
		_ = os.Remove(path)
		return Clip{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Clip{}, errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	clip := Clip{
		Path:       path,
		Duration:   captured,
		Bytes:      info.Size(),
		SampleRate: format.SampleRate,
		Truncated:  cancelled,
	}
	r.log.Info("recording saved",
		logger.String("path", path),
		logger.Duration("duration", clip.Duration),
		logger.Bool("truncated", cancelled))
	return clip, nil
}

// countdown blocks until duration elapses or ctx ends and reports whether ctx ended first
func (r *Recorder) countdown(ctx context.Context, duration time.Duration, onTick func(time.Duration)) bool {
	if onTick == nil {
		onTick = func(time.Duration) {}
	}

	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	remaining := duration
	onTick(remaining)

	for {
		select {
		case <-ctx.Done():
			return true
		case <-deadline.C:
			onTick(0)
			return false
		case <-ticker.C:
			remaining -= r.tick
			if remaining > 0 {
				onTick(remaining)
			}
		}
	}
}

func (r *Recorder) checkDiskSpace(dir string) error {
	if r.minFreeMB == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	free, err := r.freeSpace(dir)
	if err != nil {
		return errors.New(err).
			Component("recorder").
			Category(errors.CategoryDiskUsage).
			Context("path", dir).
			Build()
	}
	if free < r.minFreeMB*1024*1024 {
		return errors.Newf("only %d MB free in %s, need %d MB", free/(1024*1024), dir, r.minFreeMB).
			Component("recorder").
			Category(errors.CategoryDiskUsage).
			Priority(errors.PriorityHigh).
			Build()
	}
	return nil
}

func bytesDuration(n int, f Format) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
