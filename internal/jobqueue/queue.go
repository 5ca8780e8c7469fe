package jobqueue

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// JobQueue manages a bounded queue of jobs that can be retried
type JobQueue struct {
	mu                 sync.Mutex
	jobs               []*Job
	archivedJobs       []*Job
	stats              JobStats
	jobCounter         int
	running            int
	isRunning          bool
	maxJobs            int
	maxArchivedJobs    int
	jobTimeout         time.Duration
	processingInterval time.Duration
	processCancel      context.CancelFunc
	jobsCancel         context.CancelFunc
	jobsCtx            context.Context
	loopDone           chan struct{}
	runningJobs        sync.WaitGroup
	log                logger.Logger
}

// Option customises a JobQueue
type Option func(*JobQueue)

// WithProcessingInterval sets how often due jobs are picked up
func WithProcessingInterval(d time.Duration) Option {
	return func(q *JobQueue) {
		if d > 0 {
			q.processingInterval = d
		}
	}
}

// WithMaxArchivedJobs bounds the number of finished jobs kept for inspection
func WithMaxArchivedJobs(n int) Option {
	return func(q *JobQueue) {
		if n >= 0 {
			q.maxArchivedJobs = n
		}
	}
}

// NewJobQueue creates a queue with default limits
func NewJobQueue(opts ...Option) *JobQueue {
	return New(conf.QueueSettings{}, opts...)
}

// New creates a queue from the queue configuration section
func New(settings conf.QueueSettings, opts ...Option) *JobQueue {
	q := &JobQueue{
		maxJobs:            settings.MaxJobs,
		jobTimeout:         settings.JobTimeout,
		maxArchivedJobs:    defaultMaxArchived,
		processingInterval: time.Second,
		stats:              JobStats{ActionStats: make(map[string]ActionStats)},
		log:                logger.Global().Module("jobqueue"),
	}
	if q.maxJobs <= 0 {
		q.maxJobs = DefaultMaxJobs
	}
	if q.jobTimeout <= 0 {
		q.jobTimeout = DefaultJobTimeout
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start starts processing; ctx bounds the processing loop
func (q *JobQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return
	}
	q.isRunning = true

	processCtx, cancel := context.WithCancel(ctx)
	q.processCancel = cancel
	// jobs outlive the loop so StopWithTimeout can let them finish
	q.jobsCtx, q.jobsCancel = context.WithCancel(context.WithoutCancel(ctx))
	q.loopDone = make(chan struct{})

	go q.processJobs(processCtx, q.loopDone)
}

// IsRunning reports whether the queue accepts jobs
func (q *JobQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isRunning
}

// Stop stops the queue, waiting up to 10 seconds for running jobs
func (q *JobQueue) Stop() error {
	return q.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout stops accepting jobs, cancels pending ones and waits for
// running jobs. Jobs still running when the timeout expires get their
// context cancelled.
func (q *JobQueue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.processCancel()
	loopDone := q.loopDone
	jobsCancel := q.jobsCancel

	cancelled := 0
	for _, job := range q.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			job.Status = JobStatusCancelled
			cancelled++
		}
	}
	q.mu.Unlock()

	<-loopDone

	if cancelled > 0 {
		q.log.Info("cancelled pending jobs on shutdown", logger.Int("count", cancelled))
	}

	done := make(chan struct{})
	go func() {
		q.runningJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		jobsCancel()
		return nil
	case <-time.After(timeout):
		jobsCancel()
		<-done
		return errors.Newf("timed out waiting for jobs to complete after %v", timeout).
			Component("jobqueue").
			Category(errors.CategoryTimeout).
			Context("running_jobs", q.runningCount()).
			Build()
	}
}

func (q *JobQueue) runningCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Enqueue adds a job. When the queue is full the oldest waiting job is dropped.
func (q *JobQueue) Enqueue(action Action, data any, config RetryConfig) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrQueueStopped
	}

	actionType := actionTypeName(action)

	if q.pendingLocked() >= q.maxJobs && !q.dropOldestPendingJobLocked() {
		q.stats.DroppedJobs++
		stats := q.actionStatsLocked(action)
		stats.Dropped++
		q.stats.ActionStats[actionType] = stats

		return nil, errors.New(ErrQueueFull).
			Component("jobqueue").
			Category(errors.CategoryJobQueue).
			Context("max_jobs", q.maxJobs).
			Context("action_type", actionType).
			Build()
	}

	q.jobCounter++
	now := time.Now()
	job := &Job{
		ID:          fmt.Sprintf("job-%d", q.jobCounter),
		Action:      action,
		Data:        data,
		MaxAttempts: config.maxAttempts(),
		CreatedAt:   now,
		NextRetryAt: now,
		Status:      JobStatusPending,
		Config:      config,
	}
	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++
	q.stats.ActionStats[actionType] = q.actionStatsLocked(action)

	q.log.Debug("job enqueued",
		logger.String("job_id", job.ID),
		logger.String("action_type", actionType),
		logger.Int("max_attempts", job.MaxAttempts))

	return job, nil
}

// pendingLocked counts jobs that are not finished. Caller holds q.mu.
func (q *JobQueue) pendingLocked() int {
	n := 0
	for _, job := range q.jobs {
		switch job.Status {
		case JobStatusPending, JobStatusRetrying, JobStatusRunning:
			n++
		}
	}
	return n
}

// dropOldestPendingJobLocked removes the oldest job that is waiting to run.
// Caller holds q.mu.
func (q *JobQueue) dropOldestPendingJobLocked() bool {
	oldestIdx := -1
	for i, job := range q.jobs {
		if job.Status != JobStatusPending && job.Status != JobStatusRetrying {
			continue
		}
		if oldestIdx == -1 || job.CreatedAt.Before(q.jobs[oldestIdx].CreatedAt) {
			oldestIdx = i
		}
	}
	if oldestIdx == -1 {
		return false
	}

	oldest := q.jobs[oldestIdx]
	q.jobs = append(q.jobs[:oldestIdx], q.jobs[oldestIdx+1:]...)
	oldest.Status = JobStatusCancelled
	q.archivedJobs = append(q.archivedJobs, oldest)

	q.stats.DroppedJobs++
	actionType := actionTypeName(oldest.Action)
	stats := q.actionStatsLocked(oldest.Action)
	stats.Dropped++
	q.stats.ActionStats[actionType] = stats

	q.log.Warn("dropped oldest pending job to make room",
		logger.String("job_id", oldest.ID),
		logger.String("action_type", actionType))
	return true
}

// actionStatsLocked returns the stats entry for action, initialising its
// identity fields. Caller holds q.mu.
func (q *JobQueue) actionStatsLocked(action Action) ActionStats {
	typeName := actionTypeName(action)
	stats := q.stats.ActionStats[typeName]
	if stats.TypeName == "" {
		stats.TypeName = typeName
		if d, ok := action.(Describer); ok {
			stats.Description = d.Description()
		}
	}
	return stats
}

func actionTypeName(action Action) string {
	return fmt.Sprintf("%T", action)
}

func (q *JobQueue) processJobs(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(q.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.log.Debug("job queue processing stopped", logger.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			q.ProcessImmediately(ctx)
		}
	}
}

// ProcessImmediately archives finished jobs and starts every due job without
// waiting for the ticker
func (q *JobQueue) ProcessImmediately(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	q.cleanupStaleJobs()
	q.processDueJobs()
}

// cleanupStaleJobs moves finished jobs to the archive
func (q *JobQueue) cleanupStaleJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := q.jobs[:0]
	stale := 0
	for _, job := range q.jobs {
		switch job.Status {
		case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
			q.archivedJobs = append(q.archivedJobs, job)
			stale++
		default:
			active = append(active, job)
		}
	}
	for i := len(active); i < len(q.jobs); i++ {
		q.jobs[i] = nil
	}
	q.jobs = active
	q.stats.StaleJobs += stale

	if excess := len(q.archivedJobs) - q.maxArchivedJobs; excess > 0 {
		q.archivedJobs = append([]*Job(nil), q.archivedJobs[excess:]...)
	}
	q.stats.ArchivedJobs = len(q.archivedJobs)
}

// calculateBackoffDelay returns the delay before the given attempt, with ±10% jitter
func calculateBackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := float64(config.InitialDelay) * math.Pow(multiplier, float64(attemptNum-1))
	backoff *= 0.9 + 0.2*rand.Float64()

	if config.MaxDelay > 0 && backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

func (q *JobQueue) processDueJobs() {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return
	}

	now := time.Now()
	var due []*Job
	for _, job := range q.jobs {
		if (job.Status == JobStatusPending || job.Status == JobStatusRetrying) && !job.NextRetryAt.After(now) {
			job.Status = JobStatusRunning
			job.Attempts++
			due = append(due, job)
		}
	}
	q.running += len(due)
	q.runningJobs.Add(len(due))
	jobsCtx := q.jobsCtx
	q.mu.Unlock()

	for _, job := range due {
		go func(j *Job) {
			defer q.runningJobs.Done()
			q.executeJob(jobsCtx, j)
		}(job)
	}
}

// executeJob runs one attempt under the job timeout and records the outcome
func (q *JobQueue) executeJob(ctx context.Context, job *Job) {
	actionType := actionTypeName(job.Action)
	log := q.log.With(
		logger.String("job_id", job.ID),
		logger.String("action_type", actionType),
		logger.Int("attempt", job.Attempts),
		logger.Int("max_attempts", job.MaxAttempts))

	if job.Attempts > 1 {
		log.Info("retrying job")
	}

	execCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	defer cancel()

	start := time.Now()
	result := make(chan error, 1)
	go func() { result <- q.runAction(execCtx, job) }()

	var err error
	select {
	case err = <-result:
	case <-execCtx.Done():
		// the action ignores its context; stop waiting for it
		err = execCtx.Err()
	}
	duration := time.Since(start)

	if err != nil && execCtx.Err() == context.DeadlineExceeded {
		err = errors.New(err).
			Component("jobqueue").
			Category(errors.CategoryTimeout).
			Context("job_id", job.ID).
			Timing("job_execution", q.jobTimeout).
			Build()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	if job.Attempts > 1 {
		q.stats.RetryAttempts++
	}
	stats := q.actionStatsLocked(job.Action)
	if job.Attempts > 1 {
		stats.Retried++
	}
	stats.recordExecution(duration, time.Now(), err)

	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		job.LastError = nil
		q.stats.SuccessfulJobs++
		stats.Successful++
		log.Info("job completed", logger.Duration("duration", duration))

	case ctx.Err() != nil:
		// queue shut down underneath the job
		job.Status = JobStatusCancelled
		job.LastError = err
		log.Warn("job cancelled by shutdown", logger.Error(err))

	case job.Attempts >= job.MaxAttempts:
		job.Status = JobStatusFailed
		job.LastError = err
		q.stats.FailedJobs++
		stats.Failed++
		log.Error("job failed permanently", logger.Error(err))

	default:
		job.Status = JobStatusRetrying
		job.LastError = err
		delay := calculateBackoffDelay(job.Config, job.Attempts)
		job.NextRetryAt = time.Now().Add(delay)
		log.Warn("job failed, will retry", logger.Error(err), logger.Duration("delay", delay))
	}

	q.stats.ActionStats[actionType] = stats
}

// runAction executes the action, converting panics into errors
func (q *JobQueue) runAction(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job execution panicked: %v", r).
				Component("jobqueue").
				Category(errors.CategoryJobQueue).
				Context("job_id", job.ID).
				Build()
		}
	}()
	return job.Action.Execute(ctx, job.Data)
}

// Job returns a copy of the job with the given ID, searching active and archived jobs
func (q *JobQueue) Job(id string) (JobInfo, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, list := range [][]*Job{q.jobs, q.archivedJobs} {
		for _, job := range list {
			if job.ID == id {
				return job.info(), true
			}
		}
	}
	return JobInfo{}, false
}

// PendingJobs returns copies of the jobs waiting to run
func (q *JobQueue) PendingJobs() []JobInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []JobInfo
	for _, job := range q.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			pending = append(pending, job.info())
		}
	}
	return pending
}

func (j *Job) info() JobInfo {
	info := JobInfo{
		ID:          j.ID,
		ActionType:  actionTypeName(j.Action),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		CreatedAt:   j.CreatedAt,
		NextRetryAt: j.NextRetryAt,
		Status:      j.Status,
	}
	if j.LastError != nil {
		info.LastError = j.LastError.Error()
	}
	return info
}

// MaxJobs returns the queue capacity
func (q *JobQueue) MaxJobs() int {
	return q.maxJobs
}

// GetStats returns a snapshot of the current job statistics
func (q *JobQueue) GetStats() JobStatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	actionStats := make(map[string]ActionStats, len(q.stats.ActionStats))
	for k, v := range q.stats.ActionStats {
		actionStats[k] = v
	}

	pending := 0
	for _, job := range q.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			pending++
		}
	}

	return JobStatsSnapshot{
		TotalJobs:        q.stats.TotalJobs,
		SuccessfulJobs:   q.stats.SuccessfulJobs,
		FailedJobs:       q.stats.FailedJobs,
		StaleJobs:        q.stats.StaleJobs,
		ArchivedJobs:     q.stats.ArchivedJobs,
		DroppedJobs:      q.stats.DroppedJobs,
		RetryAttempts:    q.stats.RetryAttempts,
		PendingJobs:      pending,
		RunningJobs:      q.running,
		MaxQueueSize:     q.maxJobs,
		QueueUtilization: float64(pending+q.running) / float64(q.maxJobs) * 100,
		ActionStats:      actionStats,
	}
}
