package logger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	logFileBufferSize    = 16 * 1024
	logFileFlushInterval = 2 * time.Second
)

// logFile is an append-only log file behind a write buffer. The buffer is
// flushed every logFileFlushInterval, by Flush and by Close; Close also syncs.
type logFile struct {
	path string

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	closed bool

	stop chan struct{}
	done chan struct{}
}

func openLogFile(path string) (*logFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path comes from the logging config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	lf := &logFile{
		path: path,
		file: f,
		buf:  bufio.NewWriterSize(f, logFileBufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go lf.flushLoop()
	return lf, nil
}

func (lf *logFile) flushLoop() {
	defer close(lf.done)
	ticker := time.NewTicker(logFileFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lf.stop:
			return
		case <-ticker.C:
			_ = lf.Flush()
		}
	}
}

func (lf *logFile) Write(p []byte) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.closed {
		return 0, fmt.Errorf("log file %s is closed", lf.path)
	}
	return lf.buf.Write(p)
}

// Flush hands buffered lines to the OS
func (lf *logFile) Flush() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.closed {
		return nil
	}
	return lf.buf.Flush()
}

// Close flushes, syncs and closes the file. Further calls return nil.
func (lf *logFile) Close() error {
	lf.mu.Lock()
	if lf.closed {
		lf.mu.Unlock()
		return nil
	}
	lf.closed = true
	lf.mu.Unlock()

	close(lf.stop)
	<-lf.done

	lf.mu.Lock()
	defer lf.mu.Unlock()
	return errors.Join(lf.buf.Flush(), lf.file.Sync(), lf.file.Close())
}

// flushOnWarn writes to a log file and flushes it after every record at warn
// level or above, so the lines explaining a failure reach the disk even when
// the device loses power with the ignition.
type flushOnWarn struct {
	slog.Handler
	file *logFile
}

//nolint:gocritic // slog.Handler takes the record by value
func (h flushOnWarn) Handle(ctx context.Context, r slog.Record) error {
	err := h.Handler.Handle(ctx, r)
	if r.Level >= slog.LevelWarn {
		err = errors.Join(err, h.file.Flush())
	}
	return err
}

func (h flushOnWarn) WithAttrs(attrs []slog.Attr) slog.Handler {
	return flushOnWarn{Handler: h.Handler.WithAttrs(attrs), file: h.file}
}

func (h flushOnWarn) WithGroup(name string) slog.Handler {
	return flushOnWarn{Handler: h.Handler.WithGroup(name), file: h.file}
}

// fileHandler is the JSON handler used for every log file
func fileHandler(lf *logFile, level slog.Level, tz *time.Location) slog.Handler {
	return flushOnWarn{Handler: newJSONHandler(lf, level, tz), file: lf}
}

// teeHandler sends a record to each handler whose level admits it. Console
// and file outputs carry their own levels, so each one is asked separately.
type teeHandler []slog.Handler

func tee(handlers ...slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return teeHandler(handlers)
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler takes the record by value
func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
