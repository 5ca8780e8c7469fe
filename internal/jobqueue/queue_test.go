package jobqueue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
)

const (
	testInterval = 10 * time.Millisecond
	testTimeout  = 5 * time.Second
)

// countingAction records how many times it ran and fails the first failures calls
type countingAction struct {
	calls    atomic.Int32
	failures int32
	block    chan struct{}
}

func (a *countingAction) Execute(ctx context.Context, data any) error {
	n := a.calls.Add(1)
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= a.failures {
		return stderrors.New("upload refused")
	}
	return nil
}

func (a *countingAction) Description() string { return "counting test action" }

func startQueue(t *testing.T, settings conf.QueueSettings) *JobQueue {
	t.Helper()
	q := New(settings, WithProcessingInterval(testInterval))
	q.Start(context.Background())
	t.Cleanup(func() { _ = q.StopWithTimeout(testTimeout) })
	return q
}

func waitForStatus(t *testing.T, q *JobQueue, id string, want JobStatus) JobInfo {
	t.Helper()
	var info JobInfo
	require.Eventually(t, func() bool {
		var ok bool
		info, ok = q.Job(id)
		return ok && info.Status == want
	}, testTimeout, testInterval, "job %s never reached %s", id, want)
	return info
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestJobRunsOnce(t *testing.T) {
	q := startQueue(t, conf.QueueSettings{})
	action := &countingAction{}

	var got any
	job, err := q.Enqueue(ActionFunc(func(ctx context.Context, data any) error {
		got = data
		return action.Execute(ctx, data)
	}), "ridenote_20261019_143000_ab12cd34.wav", RetryConfig{})
	require.NoError(t, err)

	info := waitForStatus(t, q, job.ID, JobStatusCompleted)
	assert.Equal(t, 1, info.Attempts)
	assert.Equal(t, int32(1), action.calls.Load())
	assert.Equal(t, "ridenote_20261019_143000_ab12cd34.wav", got)

	stats := q.GetStats()
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.SuccessfulJobs)
	assert.Equal(t, 0, stats.RetryAttempts)
}

func TestRetriesDisabledByDefault(t *testing.T) {
	q := startQueue(t, conf.QueueSettings{})
	action := &countingAction{failures: 10}

	cfg := RetryConfigFromSettings(conf.QueueSettings{})
	assert.False(t, cfg.Enabled)

	job, err := q.Enqueue(action, nil, cfg)
	require.NoError(t, err)

	info := waitForStatus(t, q, job.ID, JobStatusFailed)
	assert.Equal(t, 1, info.Attempts)
	assert.Contains(t, info.LastError, "upload refused")

	stats := q.GetStats()
	assert.Equal(t, 1, stats.FailedJobs)
	actionStats := stats.ActionStats[actionTypeName(action)]
	assert.Equal(t, "counting test action", actionStats.Description)
	assert.Equal(t, 1, actionStats.Failed)
	assert.Equal(t, "upload refused", actionStats.LastErrorMessage)
}

func TestRetryUntilSuccess(t *testing.T) {
	q := startQueue(t, conf.QueueSettings{})
	action := &countingAction{failures: 2}

	job, err := q.Enqueue(action, nil, RetryConfig{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
	})
	require.NoError(t, err)

	info := waitForStatus(t, q, job.ID, JobStatusCompleted)
	assert.Equal(t, 3, info.Attempts)
	assert.Equal(t, 4, info.MaxAttempts)

	stats := q.GetStats()
	assert.Equal(t, 2, stats.RetryAttempts)
	assert.Equal(t, 2, stats.ActionStats[actionTypeName(action)].Retried)
	assert.Equal(t, 3, stats.ActionStats[actionTypeName(action)].Attempted)
}

func TestRetryExhaustion(t *testing.T) {
	q := startQueue(t, conf.QueueSettings{})
	action := &countingAction{failures: 100}

	job, err := q.Enqueue(action, nil, RetryConfig{
		Enabled:      true,
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   1,
	})
	require.NoError(t, err)

	info := waitForStatus(t, q, job.ID, JobStatusFailed)
	assert.Equal(t, 3, info.Attempts)
	assert.Equal(t, int32(3), action.calls.Load())
}

func TestJobTimeout(t *testing.T) {
	q := startQueue(t, conf.QueueSettings{JobTimeout: 30 * time.Millisecond})
	action := &countingAction{block: make(chan struct{})}
	defer close(action.block)

	job, err := q.Enqueue(action, nil, RetryConfig{})
	require.NoError(t, err)

	info := waitForStatus(t, q, job.ID, JobStatusFailed)
	assert.Contains(t, info.LastError, context.DeadlineExceeded.Error())
}

func TestPanicIsRecovered(t *testing.T) {
	q := startQueue(t, conf.QueueSettings{})

	job, err := q.Enqueue(ActionFunc(func(context.Context, any) error {
		panic("nil recording")
	}), nil, RetryConfig{})
	require.NoError(t, err)

	info := waitForStatus(t, q, job.ID, JobStatusFailed)
	assert.Contains(t, info.LastError, "panicked: nil recording")
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	// not started loop: jobs stay pending until ProcessImmediately
	q := New(conf.QueueSettings{MaxJobs: 2}, WithProcessingInterval(time.Hour))
	q.Start(context.Background())
	defer func() { require.NoError(t, q.StopWithTimeout(testTimeout)) }()

	action := &countingAction{}
	first, err := q.Enqueue(action, 1, RetryConfig{})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := q.Enqueue(action, 2, RetryConfig{})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	third, err := q.Enqueue(action, 3, RetryConfig{})
	require.NoError(t, err)

	dropped, ok := q.Job(first.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusCancelled, dropped.Status)

	pending := q.PendingJobs()
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)

	stats := q.GetStats()
	assert.Equal(t, 1, stats.DroppedJobs)
	assert.Equal(t, 2, stats.MaxQueueSize)
	assert.InDelta(t, 100.0, stats.QueueUtilization, 0.001)
}

func TestQueueFullWhenAllJobsRunning(t *testing.T) {
	q := New(conf.QueueSettings{MaxJobs: 1}, WithProcessingInterval(time.Hour))
	q.Start(context.Background())

	action := &countingAction{block: make(chan struct{})}
	_, err := q.Enqueue(action, nil, RetryConfig{})
	require.NoError(t, err)
	q.ProcessImmediately(context.Background())

	require.Eventually(t, func() bool { return action.calls.Load() == 1 }, testTimeout, testInterval)

	_, err = q.Enqueue(action, nil, RetryConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.True(t, errors.IsCategory(err, errors.CategoryJobQueue))

	close(action.block)
	require.NoError(t, q.StopWithTimeout(testTimeout))
}

func TestEnqueueValidation(t *testing.T) {
	q := New(conf.QueueSettings{})

	_, err := q.Enqueue(&countingAction{}, nil, RetryConfig{})
	assert.ErrorIs(t, err, ErrQueueStopped)

	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop()) }()

	_, err = q.Enqueue(nil, nil, RetryConfig{})
	assert.ErrorIs(t, err, ErrNilAction)
}

func TestStopWaitsForRunningJob(t *testing.T) {
	q := New(conf.QueueSettings{}, WithProcessingInterval(testInterval))
	q.Start(context.Background())

	started := make(chan struct{})
	var finished atomic.Bool
	_, err := q.Enqueue(ActionFunc(func(ctx context.Context, _ any) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}), nil, RetryConfig{})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(testTimeout):
		require.Fail(t, "job did not start")
	}

	require.NoError(t, q.StopWithTimeout(testTimeout))
	assert.True(t, finished.Load())
	assert.False(t, q.IsRunning())
}

func TestStopTimeoutCancelsRunningJob(t *testing.T) {
	q := New(conf.QueueSettings{}, WithProcessingInterval(testInterval))
	q.Start(context.Background())

	action := &countingAction{block: make(chan struct{})}
	job, err := q.Enqueue(action, nil, RetryConfig{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return action.calls.Load() == 1 }, testTimeout, testInterval)

	err = q.StopWithTimeout(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))

	info, ok := q.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusCancelled, info.Status)
}

func TestCalculateBackoffDelay(t *testing.T) {
	cfg := RetryConfig{Enabled: true, MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	first := calculateBackoffDelay(cfg, 1)
	assert.GreaterOrEqual(t, first, 900*time.Millisecond)
	assert.LessOrEqual(t, first, 1100*time.Millisecond)

	second := calculateBackoffDelay(cfg, 2)
	assert.GreaterOrEqual(t, second, 1800*time.Millisecond)
	assert.LessOrEqual(t, second, 2200*time.Millisecond)

	assert.Equal(t, 5*time.Second, calculateBackoffDelay(cfg, 10))
}

func TestRetryConfigFromSettings(t *testing.T) {
	cfg := RetryConfigFromSettings(conf.QueueSettings{
		MaxRetries:   3,
		InitialDelay: time.Minute,
		MaxDelay:     time.Hour,
		Multiplier:   2,
	})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 4, cfg.maxAttempts())
	assert.Equal(t, 1, RetryConfig{MaxRetries: 3}.maxAttempts())
}

func TestStatsToJSON(t *testing.T) {
	q := startQueue(t, conf.QueueSettings{})
	action := &countingAction{}

	job, err := q.Enqueue(action, nil, RetryConfig{})
	require.NoError(t, err)
	waitForStatus(t, q, job.ID, JobStatusCompleted)

	stats := q.GetStats()
	out, err := stats.ToJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))

	queue := decoded["queue"].(map[string]any)
	assert.InDelta(t, 1, queue["successful"], 0)
	assert.InDelta(t, 100, queue["maxSize"], 0)

	actions := decoded["actions"].(map[string]any)
	entry := actions[actionTypeName(action)].(map[string]any)
	assert.Equal(t, "counting test action", entry["description"])
	assert.Contains(t, entry, "timestamps")

	compact, err := stats.ToJSONCompact()
	require.NoError(t, err)
	assert.NotContains(t, compact, "\n")
}

func TestJobStatusString(t *testing.T) {
	assert.Equal(t, "Pending", JobStatusPending.String())
	assert.Equal(t, "Retrying", JobStatusRetrying.String())
	assert.Equal(t, "Cancelled", JobStatusCancelled.String())
	assert.Equal(t, "Unknown", JobStatus(42).String())
}
