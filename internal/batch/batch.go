// Package batch walks stored recordings and runs the online follow-up steps,
// transcription and OSM note upload, one item at a time.
package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/events"
	"github.com/tphakala/ridenote/internal/export"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/observability/metrics"
	"github.com/tphakala/ridenote/internal/osmnotes"
	"github.com/tphakala/ridenote/internal/transcribe"
)

// ErrBatchInProgress is returned by Run while another run is active
var ErrBatchInProgress = errors.NewStd("batch run already in progress")

// Stage selects which pass a run performs
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageOSM        Stage = "osm"
	StageAll        Stage = "all"
)

// ParseStage accepts transcribe, osm, all or an empty string meaning all
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case "", StageAll:
		return StageAll, nil
	case StageTranscribe, StageOSM:
		return Stage(s), nil
	default:
		return "", errors.Newf("unknown batch stage %q", s).
			Component("batch").
			Category(errors.CategoryValidation).
			Build()
	}
}

// Options controls one run
type Options struct {
	Stage       Stage
	RetryFailed bool // also retry ERROR and FALLBACK transcriptions and failed uploads
	// Zero timeouts use the batch settings
	TranscribeTimeout time.Duration
	UploadTimeout     time.Duration
}

// Summary reports the outcome of a run. For StageAll the per-pass summaries
// are listed in Stages and the counters are their sums.
type Summary struct {
	Stage     Stage         `json:"stage"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Fallback  int           `json:"fallback"`
	Disabled  int           `json:"disabled"`
	Skipped   int           `json:"skipped"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Duration  time.Duration `json:"duration"`
	Stages    []Summary     `json:"stages,omitempty"`
}

func (s *Summary) add(o Summary) {
	s.Processed += o.Processed
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Fallback += o.Fallback
	s.Disabled += o.Disabled
	s.Skipped += o.Skipped
	s.Cancelled = s.Cancelled || o.Cancelled
	s.Stages = append(s.Stages, o)
}

// Config wires the processor. Engine, Publisher, Exporter, Bus and Metrics may be nil.
type Config struct {
	Store     datastore.Interface
	Engine    transcribe.Engine
	Publisher osmnotes.Publisher
	Exporter  *export.Exporter
	Bus       *events.Bus
	Metrics   *metrics.BatchMetrics
	// Settings returns the settings in effect; read for every item so that
	// feature toggles apply without a restart
	Settings func() *conf.Settings
}

// Processor runs batch passes and single-item follow-ups
type Processor struct {
	store     datastore.Interface
	engine    transcribe.Engine
	publisher osmnotes.Publisher
	exporter  *export.Exporter
	bus       *events.Bus
	metrics   *metrics.BatchMetrics
	settings  func() *conf.Settings
	running   atomic.Bool
	log       logger.Logger
}

// New creates a processor
func New(cfg Config) *Processor {
	settings := cfg.Settings
	if settings == nil {
		settings = conf.GetSettings
	}
	return &Processor{
		store:     cfg.Store,
		engine:    cfg.Engine,
		publisher: cfg.Publisher,
		exporter:  cfg.Exporter,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		settings:  settings,
		log:       logger.Global().Module("batch"),
	}
}

// Running reports whether a run is active
func (p *Processor) Running() bool { return p.running.Load() }

// Run performs the selected passes. Item failures never stop the loop; an
// error is returned only when rows cannot be loaded or a run is already active.
// Cancelling ctx stops after the current item.
func (p *Processor) Run(ctx context.Context, opts Options) (Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Summary{}, errors.New(ErrBatchInProgress).
			Component("batch").
			Category(errors.CategoryConflict).
			Build()
	}
	defer p.running.Store(false)

	if opts.Stage == "" {
		opts.Stage = StageAll
	}
	ctx = logger.WithTraceID(ctx, uuid.NewString())
	log := p.log.WithContext(ctx)
	start := time.Now()

	var summary Summary
	var err error
	switch opts.Stage {
	case StageTranscribe:
		summary, err = p.runPass(ctx, StageTranscribe, opts)
	case StageOSM:
		summary, err = p.runPass(ctx, StageOSM, opts)
	case StageAll:
		summary = Summary{Stage: StageAll}
		for _, stage := range []Stage{StageTranscribe, StageOSM} {
			if ctx.Err() != nil {
				summary.Cancelled = true
				break
			}
			var s Summary
			s, err = p.runPass(ctx, stage, opts)
			summary.add(s)
			if err != nil {
				break
			}
		}
	default:
		_, err = ParseStage(string(opts.Stage))
		return Summary{}, err
	}
	summary.Duration = time.Since(start)

	if err == nil {
		p.refreshExports(ctx)
	}

	log.Info("batch run finished",
		logger.String("stage", string(summary.Stage)),
		logger.Int("processed", summary.Processed),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("fallback", summary.Fallback),
		logger.Int("failed", summary.Failed),
		logger.Int("disabled", summary.Disabled),
		logger.Bool("cancelled", summary.Cancelled),
		logger.Duration("duration", summary.Duration))

	return summary, err
}

// runPass processes every row of one stage and emits BatchComplete
func (p *Processor) runPass(ctx context.Context, stage Stage, opts Options) (Summary, error) {
	start := time.Now()
	summary := Summary{Stage: stage}

	recs, err := p.candidates(stage, opts.RetryFailed)
	if err != nil {
		p.recordRun(stage, metrics.ResultError, summary, time.Since(start))
		return summary, err
	}

	p.log.WithContext(ctx).Info("batch pass started",
		logger.String("stage", string(stage)),
		logger.Int("items", len(recs)))

	for i := range recs {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		rec := &recs[i]

		var outcome itemOutcome
		if stage == StageTranscribe {
			outcome = p.transcribeItem(ctx, rec, p.transcribeTimeout(opts))
		} else {
			outcome = p.uploadItem(ctx, rec, p.uploadTimeout(opts))
		}

		if outcome.cancelled {
			summary.Cancelled = true
			break
		}
		summary.count(outcome.status)

		p.bus.Publish(events.BatchProgress{
			Stage:    string(stage),
			Index:    i + 1,
			Total:    len(recs),
			FileName: rec.FileName,
			Status:   outcome.status,
			At:       time.Now(),
		})
	}

	summary.Duration = time.Since(start)
	result := metrics.ResultSuccess
	if summary.Cancelled {
		result = metrics.ResultCancelled
	}
	p.recordRun(stage, result, summary, summary.Duration)

	p.bus.Publish(events.BatchComplete{
		Stage:     string(stage),
		Processed: summary.Processed,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Fallback:  summary.Fallback,
		Disabled:  summary.Disabled,
		Cancelled: summary.Cancelled,
		Duration:  summary.Duration,
		At:        time.Now(),
	})
	return summary, nil
}

func (s *Summary) count(status string) {
	if status == statusSkipped {
		s.Skipped++
		return
	}
	s.Processed++
	switch status {
	case string(datastore.V2SCompleted):
		s.Succeeded++
	case string(datastore.V2SFallback):
		s.Fallback++
	case string(datastore.V2SDisabled):
		s.Disabled++
	default:
		s.Failed++
	}
}

// candidates loads the rows a pass works on, oldest first
func (p *Processor) candidates(stage Stage, retryFailed bool) ([]datastore.Recording, error) {
	if stage == StageOSM {
		return p.store.FindPendingOSM(retryFailed)
	}

	statuses := []datastore.V2SStatus{datastore.V2SNotStarted}
	if retryFailed {
		statuses = append(statuses, datastore.V2SError, datastore.V2SFallback)
	}
	recs, err := p.store.FindByV2SStatus(statuses...)
	if err != nil {
		return nil, err
	}

	// a fallback text that already went out as a note is left alone
	kept := recs[:0]
	for i := range recs {
		if recs[i].V2SStatus == datastore.V2SFallback && recs[i].OsmStatus == datastore.OsmCompleted {
			continue
		}
		kept = append(kept, recs[i])
	}
	return kept, nil
}

func (p *Processor) transcribeTimeout(opts Options) time.Duration {
	if opts.TranscribeTimeout > 0 {
		return opts.TranscribeTimeout
	}
	if s := p.settings(); s != nil && s.Batch.TranscribeTimeout > 0 {
		return s.Batch.TranscribeTimeout
	}
	return conf.TranscribeItemTimeout
}

func (p *Processor) uploadTimeout(opts Options) time.Duration {
	if opts.UploadTimeout > 0 {
		return opts.UploadTimeout
	}
	if s := p.settings(); s != nil && s.Batch.UploadTimeout > 0 {
		return s.Batch.UploadTimeout
	}
	return conf.UploadItemTimeout
}

// refreshExports regenerates the export files from the whole store
func (p *Processor) refreshExports(ctx context.Context) {
	if p.exporter == nil {
		return
	}
	if s := p.settings(); s != nil && !s.Batch.ExportAfter {
		return
	}
	recs, err := p.store.List(datastore.ListOptions{Ascending: true})
	if err == nil {
		err = p.exporter.Rebuild(recs)
	}
	if err != nil {
		p.log.WithContext(ctx).Warn("failed to refresh exports", logger.Error(err))
		return
	}
	p.log.WithContext(ctx).Debug("exports refreshed", logger.Int("entries", len(recs)))
}

func (p *Processor) recordRun(stage Stage, result string, s Summary, d time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordRun(string(stage), result, d, s.Processed, s.Succeeded, s.Failed, s.Fallback)
}
