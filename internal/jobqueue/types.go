// Package jobqueue runs follow-up work (transcription and note upload) for
// fresh captures in the background, with optional retries.
package jobqueue

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/tphakala/ridenote/internal/conf"
)

// Common errors that can be returned by job queue operations
var (
	ErrNilAction    = stderrors.New("cannot enqueue nil action")
	ErrQueueStopped = stderrors.New("job queue has been stopped")
	ErrQueueFull    = stderrors.New("job queue is full")
)

const (
	DefaultMaxJobs     = 100
	DefaultJobTimeout  = 60 * time.Second
	defaultMaxArchived = 100
	// MaxMessageLength bounds error and description strings kept in statistics
	MaxMessageLength = 500
)

// RetryConfig holds the retry behaviour of a job. The zero value disables retries.
type RetryConfig struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// RetryConfigFromSettings maps the queue section of the configuration to a RetryConfig
func RetryConfigFromSettings(s conf.QueueSettings) RetryConfig {
	if s.MaxRetries <= 0 {
		return RetryConfig{}
	}
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   s.MaxRetries,
		InitialDelay: s.InitialDelay,
		MaxDelay:     s.MaxDelay,
		Multiplier:   s.Multiplier,
	}
}

// maxAttempts returns how many times a job with this config may run
func (c RetryConfig) maxAttempts() int {
	if !c.Enabled || c.MaxRetries < 0 {
		return 1
	}
	return c.MaxRetries + 1
}

// Action is a unit of work the queue can execute
type Action interface {
	Execute(ctx context.Context, data any) error
}

// Describer is implemented by actions that can name themselves in statistics
type Describer interface {
	Description() string
}

// ActionFunc adapts a function to the Action interface
type ActionFunc func(ctx context.Context, data any) error

// Execute calls f
func (f ActionFunc) Execute(ctx context.Context, data any) error { return f(ctx, data) }

// JobStatus represents the current status of a job in the queue
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
	JobStatusRetrying
	JobStatusCancelled
)

// String returns a string representation of the job status
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	case JobStatusRetrying:
		return "Retrying"
	case JobStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}
