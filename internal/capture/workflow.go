// Package capture runs one hands-free voice note: locate, announce, record,
// save, then hand the note to the follow-up queue.
package capture

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/ridenote/internal/announce"
	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/events"
	"github.com/tphakala/ridenote/internal/export"
	"github.com/tphakala/ridenote/internal/jobqueue"
	"github.com/tphakala/ridenote/internal/location"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/observability/metrics"
	"github.com/tphakala/ridenote/internal/recorder"
)

// ErrCaptureInProgress is returned when a capture is requested while one runs
var ErrCaptureInProgress = errors.NewStd("capture already in progress")

// Config wires a Workflow. Announcer, Exporter, Queue, FollowUp, Bus and
// Metrics may be nil.
type Config struct {
	// Settings is read at the start of every capture
	Settings  func() *conf.Settings
	Store     datastore.Interface
	Location  location.Provider
	Recorder  *recorder.Recorder
	Announcer func(*conf.Settings) announce.Announcer
	Exporter  *export.Exporter
	Queue     *jobqueue.JobQueue
	FollowUp  jobqueue.Action
	Bus       *events.Bus
	Metrics   *metrics.CaptureMetrics
}

// Workflow sequences the capture stages. Only one capture runs at a time.
type Workflow struct {
	cfg    Config
	active atomic.Bool
	log    logger.Logger

	// background captures started with Start
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a workflow
func New(cfg Config) *Workflow {
	if cfg.Settings == nil {
		cfg.Settings = conf.GetSettings
	}
	if cfg.Announcer == nil {
		cfg.Announcer = announce.New
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Workflow{
		cfg:      cfg,
		log:      logger.Global().Module("capture"),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

// Active reports whether a capture is running
func (w *Workflow) Active() bool { return w.active.Load() }

func (w *Workflow) busyError() error {
	return errors.New(ErrCaptureInProgress).
		Component("capture").
		Category(errors.CategoryConflict).
		Build()
}

// Run performs one capture and returns the stored recording
func (w *Workflow) Run(ctx context.Context) (*datastore.Recording, error) {
	if !w.active.CompareAndSwap(false, true) {
		return nil, w.busyError()
	}
	defer w.active.Store(false)
	return w.capture(ctx)
}

// Start runs a capture in the background. It returns ErrCaptureInProgress
// immediately when one is active. The capture stops early when ctx ends or
// Close is called.
func (w *Workflow) Start(ctx context.Context) error {
	if !w.active.CompareAndSwap(false, true) {
		return w.busyError()
	}
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(w.bgCtx, cancel)

	w.wg.Go(func() {
		defer w.active.Store(false)
		defer cancel()
		defer stop()
		if _, err := w.capture(runCtx); err != nil {
			w.log.Warn("background capture failed", logger.Error(err))
		}
	})
	return nil
}

// Wait blocks until background captures have finished
func (w *Workflow) Wait() { w.wg.Wait() }

// Close cancels background captures and waits for them to finish
func (w *Workflow) Close() {
	w.bgCancel()
	w.wg.Wait()
}

func (w *Workflow) capture(ctx context.Context) (*datastore.Recording, error) {
	settings := w.cfg.Settings()
	if settings == nil {
		return nil, errors.Newf("settings not loaded").
			Component("capture").
			Category(errors.CategoryConfiguration).
			Build()
	}

	traceID := uuid.NewString()
	ctx = logger.WithTraceID(ctx, traceID)
	log := w.log.WithContext(ctx)
	start := time.Now()

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.CaptureStarted()
	}
	w.cfg.Bus.Publish(events.CaptureStarted{TraceID: traceID, At: start})
	log.Info("capture started")

	rec, err := w.stages(ctx, settings, traceID)

	result := metrics.ResultSuccess
	finish := events.FinishActivity{TraceID: traceID, At: time.Now()}
	switch {
	case err != nil && ctx.Err() != nil:
		result = metrics.ResultCancelled
		finish.Error = "capture cancelled"
	case err != nil:
		result = metrics.ResultError
		finish.Error = err.Error()
	}
	if rec != nil {
		finish.RecordingID = rec.ID
		finish.FileName = rec.FileName
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.CaptureFinished(result)
	}
	w.cfg.Bus.Publish(finish)

	if err != nil {
		log.Warn("capture finished without a recording",
			logger.String("result", result),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return nil, err
	}
	log.Info("capture finished",
		logger.Uint64("recording_id", uint64(rec.ID)),
		logger.String("file", rec.FileName),
		logger.Duration("elapsed", time.Since(start)))
	return rec, nil
}

// stages runs location, announcement, recording, persistence, export and
// follow-up in order
func (w *Workflow) stages(ctx context.Context, s *conf.Settings, traceID string) (*datastore.Recording, error) {
	log := w.log.WithContext(ctx)
	recordedAt := time.Now()

	fix := w.locate(ctx, s, traceID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ann := w.cfg.Announcer(s)
	defer func() {
		if err := ann.Close(); err != nil {
			log.Debug("failed to close announcer", logger.Error(err))
		}
	}()
	announceOK := w.announce(ctx, s, ann, s.Announce.Text, true)

	clip, err := w.record(ctx, s, traceID, recordedAt)
	if err != nil {
		return nil, err
	}

	rec, err := w.persist(s, traceID, fix, clip, recordedAt)
	if err != nil {
		return nil, err
	}

	w.updateExports(ctx, s, rec)

	if announceOK && s.Announce.DoneText != "" {
		w.announce(ctx, s, ann, s.Announce.DoneText, false)
	}

	w.enqueueFollowUp(ctx, s, rec)
	return rec, nil
}

// locate acquires a fix; failure is logged and the note is saved without coordinates
func (w *Workflow) locate(ctx context.Context, s *conf.Settings, traceID string) location.Fix {
	timeout := s.Location.Timeout
	if timeout <= 0 {
		timeout = conf.LocationTimeout
	}

	start := time.Now()
	fix, err := location.Acquire(ctx, w.cfg.Location, timeout)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveStage(metrics.StageLocation, time.Since(start))
		w.cfg.Metrics.RecordLocationSource(fix.Source)
	}

	ev := events.LocationAcquired{
		TraceID:   traceID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
		Source:    fix.Source,
		At:        time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	w.cfg.Bus.Publish(ev)
	return fix
}

// announce speaks text. With init set the engine is started first within the
// init deadline. Failures only disable announcements for this capture.
func (w *Workflow) announce(ctx context.Context, s *conf.Settings, ann announce.Announcer, text string, init bool) bool {
	log := w.log.WithContext(ctx)
	start := time.Now()
	defer func() {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ObserveStage(metrics.StageAnnounce, time.Since(start))
		}
	}()

	if init {
		timeout := s.Announce.InitTimeout
		if timeout <= 0 {
			timeout = conf.AnnounceInitTimeout
		}
		initCtx, cancel := context.WithTimeout(ctx, timeout)
		err := ann.Init(initCtx)
		cancel()
		if err != nil {
			log.Warn("announcer unavailable, continuing without voice prompts", logger.Error(err))
			return false
		}
	}

	if text == "" {
		return true
	}
	if err := ann.Say(ctx, text); err != nil {
		log.Warn("announcement failed", logger.String("text", text), logger.Error(err))
		return false
	}
	return true
}

func (w *Workflow) record(ctx context.Context, s *conf.Settings, traceID string, at time.Time) (recorder.Clip, error) {
	duration := s.Recording.Duration
	if duration <= 0 {
		duration = conf.DefaultRecordingDuration
	}
	path := filepath.Join(s.RecordingsPath(), recorder.FileName(at))

	start := time.Now()
	clip, err := w.cfg.Recorder.Record(ctx, path, duration, func(remaining time.Duration) {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.Tick()
		}
		w.cfg.Bus.Publish(events.RecordingTick{TraceID: traceID, Remaining: remaining, At: time.Now()})
	})
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveStage(metrics.StageRecording, time.Since(start))
	}
	if err != nil {
		return recorder.Clip{}, err
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveRecording(clip.Duration)
	}
	return clip, nil
}

// persist stores the recording. Features switched off at capture time are
// stored as DISABLED.
func (w *Workflow) persist(s *conf.Settings, traceID string, fix location.Fix, clip recorder.Clip, at time.Time) (*datastore.Recording, error) {
	start := time.Now()

	rec := &datastore.Recording{
		FileName:       filepath.Base(clip.Path),
		FilePath:       clip.Path,
		RecordedAt:     at,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		LocationSource: fix.Source,
		DurationMs:     clip.Duration.Milliseconds(),
		V2SStatus:      datastore.V2SNotStarted,
		OsmStatus:      datastore.OsmNotStarted,
	}
	if !s.Transcription.Enabled {
		rec.V2SStatus = datastore.V2SDisabled
	}
	if !s.OSM.Enabled {
		rec.OsmStatus = datastore.OsmDisabled
	} else if fix.Source == datastore.SourceNone {
		rec.OsmStatus = datastore.OsmDisabled
		rec.ErrorMessage = datastore.NoLocationReason
	}

	if err := w.cfg.Store.Save(rec); err != nil {
		return nil, err
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveStage(metrics.StagePersist, time.Since(start))
	}

	w.cfg.Bus.Publish(events.RecordingSaved{
		TraceID:     traceID,
		RecordingID: rec.ID,
		FileName:    rec.FileName,
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		Duration:    clip.Duration,
		At:          time.Now(),
	})
	return rec, nil
}

func (w *Workflow) updateExports(ctx context.Context, s *conf.Settings, rec *datastore.Recording) {
	if w.cfg.Exporter == nil || !s.Export.AutoUpdate {
		return
	}
	if rec.LocationSource == datastore.SourceNone {
		return
	}
	start := time.Now()
	if err := w.cfg.Exporter.Upsert(export.FromRecording(rec)); err != nil {
		w.log.WithContext(ctx).Warn("failed to update exports", logger.Error(err))
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveStage(metrics.StageExport, time.Since(start))
	}
}

// enqueueFollowUp queues transcription and upload when either is pending
func (w *Workflow) enqueueFollowUp(ctx context.Context, s *conf.Settings, rec *datastore.Recording) {
	if w.cfg.Queue == nil || w.cfg.FollowUp == nil || !s.Queue.Enabled {
		return
	}
	if rec.V2SStatus != datastore.V2SNotStarted {
		return
	}

	snapshot := *rec
	job, err := w.cfg.Queue.Enqueue(w.cfg.FollowUp, &snapshot, jobqueue.RetryConfigFromSettings(s.Queue))
	log := w.log.WithContext(ctx)
	if err != nil {
		log.Warn("failed to queue follow-up, the next batch run will pick it up", logger.Error(err))
		return
	}
	log.Debug("follow-up queued", logger.String("job_id", job.ID))
}
