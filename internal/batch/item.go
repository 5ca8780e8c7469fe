package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/events"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/observability/metrics"
	"github.com/tphakala/ridenote/internal/transcribe"
)

// statusSkipped marks rows another worker owns or that need no work
const statusSkipped = "SKIPPED"

type itemOutcome struct {
	status    string
	cancelled bool
	err       error
}

func (p *Processor) transcriptionEnabled() bool {
	if p.engine == nil {
		return false
	}
	s := p.settings()
	return s == nil || s.Transcription.Enabled
}

func (p *Processor) uploadEnabled() bool {
	if p.publisher == nil {
		return false
	}
	s := p.settings()
	return s == nil || s.OSM.Enabled
}

// transcribeItem runs one transcription and stores the outcome on rec.
//
// API failures and empty answers store the coordinate placeholder as FALLBACK.
// Unreadable audio is an ERROR. When ctx is cancelled mid-call the previous
// status is put back.
func (p *Processor) transcribeItem(ctx context.Context, rec *datastore.Recording, timeout time.Duration) itemOutcome {
	log := p.log.WithContext(ctx).With(
		logger.Uint64("recording_id", uint64(rec.ID)),
		logger.String("file", rec.FileName))

	if !p.transcriptionEnabled() {
		return p.disableTranscription(rec, log)
	}

	prevStatus, prevResult, prevMsg := rec.V2SStatus, rec.V2SResult, rec.ErrorMessage
	if err := p.store.UpdateV2S(rec.ID, datastore.V2SProcessing, "", ""); err != nil {
		return p.claimFailed(err, log)
	}

	start := time.Now()
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var status datastore.V2SStatus
	var text, msg string

	audio, err := transcribe.LoadAudio(rec.FilePath)
	if err == nil {
		var res transcribe.Result
		res, err = p.engine.Transcribe(itemCtx, audio)
		if ctx.Err() != nil {
			p.restoreV2S(rec, prevStatus, prevResult, prevMsg, log)
			return itemOutcome{cancelled: true}
		}
		text = strings.TrimSpace(res.Text)
		if err == nil && text == "" {
			err = transcribe.ErrNoSpeech
		}
	}

	switch {
	case err == nil:
		status = datastore.V2SCompleted
	case errors.IsCategory(err, errors.CategoryValidation),
		errors.IsCategory(err, errors.CategoryFileIO),
		errors.IsCategory(err, errors.CategoryFileParsing):
		status = datastore.V2SError
		msg = err.Error()
		text = ""
	default:
		status = datastore.V2SFallback
		text = transcribe.Fallback(rec.Latitude, rec.Longitude, rec.RecordedAt)
		msg = failureMessage(itemCtx, err, "transcription", timeout)
	}

	if err := p.store.UpdateV2S(rec.ID, status, text, msg); err != nil {
		log.Error("failed to store transcription result", logger.Error(err))
		p.restoreV2S(rec, prevStatus, prevResult, prevMsg, log)
		return itemOutcome{status: string(datastore.V2SError), err: err}
	}
	rec.V2SStatus, rec.V2SResult, rec.ErrorMessage = status, text, msg

	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordItem(metrics.StageTranscribe, string(status), elapsed)
	}
	p.bus.Publish(events.Transcribed{
		RecordingID: rec.ID,
		FileName:    rec.FileName,
		Status:      string(status),
		Text:        text,
		Error:       msg,
		At:          time.Now(),
	})

	if status == datastore.V2SCompleted {
		log.Info("recording transcribed", logger.Duration("elapsed", elapsed), logger.Int("chars", len(text)))
	} else {
		log.Warn("transcription failed", logger.String("status", string(status)), logger.String("reason", msg))
	}

	var outErr error
	if status == datastore.V2SError {
		outErr = err
	}
	return itemOutcome{status: string(status), err: outErr}
}

func (p *Processor) disableTranscription(rec *datastore.Recording, log logger.Logger) itemOutcome {
	if rec.V2SStatus != datastore.V2SNotStarted {
		return itemOutcome{status: statusSkipped}
	}
	if err := p.store.UpdateV2S(rec.ID, datastore.V2SDisabled, "", ""); err != nil {
		return p.claimFailed(err, log)
	}
	rec.V2SStatus = datastore.V2SDisabled
	if p.metrics != nil {
		p.metrics.RecordItem(metrics.StageTranscribe, string(datastore.V2SDisabled), 0)
	}
	p.bus.Publish(events.Transcribed{
		RecordingID: rec.ID,
		FileName:    rec.FileName,
		Status:      string(datastore.V2SDisabled),
		At:          time.Now(),
	})
	log.Debug("transcription disabled, row marked")
	return itemOutcome{status: string(datastore.V2SDisabled)}
}

func (p *Processor) restoreV2S(rec *datastore.Recording, status datastore.V2SStatus, result, msg string, log logger.Logger) {
	if err := p.store.UpdateV2S(rec.ID, status, result, msg); err != nil {
		log.Error("failed to restore transcription status", logger.String("status", string(status)), logger.Error(err))
		return
	}
	log.Info("transcription interrupted, status restored", logger.String("status", string(status)))
}

// uploadItem publishes one note and stores the outcome on rec
func (p *Processor) uploadItem(ctx context.Context, rec *datastore.Recording, timeout time.Duration) itemOutcome {
	log := p.log.WithContext(ctx).With(
		logger.Uint64("recording_id", uint64(rec.ID)),
		logger.String("file", rec.FileName))

	if !p.uploadEnabled() {
		return p.disableUpload(rec, log)
	}
	if rec.Text() == "" {
		return itemOutcome{status: statusSkipped}
	}
	if rec.LocationSource == datastore.SourceNone {
		return p.disableNoLocation(rec, log)
	}

	prevStatus, prevResult, prevMsg := rec.OsmStatus, rec.OsmResult, rec.ErrorMessage
	if err := p.store.UpdateOSM(rec.ID, datastore.OsmProcessing, "", ""); err != nil {
		return p.claimFailed(err, log)
	}

	start := time.Now()
	status := datastore.OsmCompleted
	var result, msg string
	var callErr error

	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	note, err := p.publisher.CreateNote(itemCtx, rec.Latitude, rec.Longitude, rec.Text())
	if ctx.Err() != nil {
		cancel()
		p.restoreOSM(rec, prevStatus, prevResult, prevMsg, log)
		return itemOutcome{cancelled: true}
	}
	if err != nil {
		status = datastore.OsmError
		msg = failureMessage(itemCtx, err, "upload", timeout)
		callErr = err
	} else {
		result = note.URL
	}
	cancel()

	if err := p.store.UpdateOSM(rec.ID, status, result, msg); err != nil {
		log.Error("failed to store upload result", logger.Error(err))
		p.restoreOSM(rec, prevStatus, prevResult, prevMsg, log)
		return itemOutcome{status: string(datastore.OsmError), err: err}
	}
	rec.OsmStatus, rec.OsmResult = status, result
	if status == datastore.OsmError {
		rec.ErrorMessage = msg
	}

	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordItem(metrics.StageUpload, string(status), elapsed)
	}
	p.bus.Publish(events.Published{
		RecordingID: rec.ID,
		FileName:    rec.FileName,
		Status:      string(status),
		URL:         result,
		Error:       msg,
		At:          time.Now(),
	})

	if status == datastore.OsmCompleted {
		log.Info("note published", logger.String("url", result), logger.Duration("elapsed", elapsed))
	} else {
		log.Warn("note upload failed", logger.String("reason", msg))
	}
	return itemOutcome{status: string(status), err: callErr}
}

func (p *Processor) disableUpload(rec *datastore.Recording, log logger.Logger) itemOutcome {
	if rec.OsmStatus != datastore.OsmNotStarted {
		return itemOutcome{status: statusSkipped}
	}
	if err := p.store.UpdateOSM(rec.ID, datastore.OsmDisabled, "", ""); err != nil {
		return p.claimFailed(err, log)
	}
	rec.OsmStatus = datastore.OsmDisabled
	if p.metrics != nil {
		p.metrics.RecordItem(metrics.StageUpload, string(datastore.OsmDisabled), 0)
	}
	p.bus.Publish(events.Published{
		RecordingID: rec.ID,
		FileName:    rec.FileName,
		Status:      string(datastore.OsmDisabled),
		At:          time.Now(),
	})
	log.Debug("OSM upload disabled, row marked")
	return itemOutcome{status: string(datastore.OsmDisabled)}
}

// disableNoLocation marks a row without a fix as not uploadable. Rows left in
// ERROR by older runs pass through PROCESSING, the only way out of ERROR.
func (p *Processor) disableNoLocation(rec *datastore.Recording, log logger.Logger) itemOutcome {
	switch rec.OsmStatus {
	case datastore.OsmNotStarted:
	case datastore.OsmError:
		if err := p.store.UpdateOSM(rec.ID, datastore.OsmProcessing, "", ""); err != nil {
			return p.claimFailed(err, log)
		}
	default:
		return itemOutcome{status: statusSkipped}
	}
	if err := p.store.UpdateOSM(rec.ID, datastore.OsmDisabled, "", datastore.NoLocationReason); err != nil {
		log.Error("failed to disable upload", logger.Error(err))
		return itemOutcome{status: string(datastore.OsmError), err: err}
	}
	rec.OsmStatus, rec.ErrorMessage = datastore.OsmDisabled, datastore.NoLocationReason
	if p.metrics != nil {
		p.metrics.RecordItem(metrics.StageUpload, string(datastore.OsmDisabled), 0)
	}
	p.bus.Publish(events.Published{
		RecordingID: rec.ID,
		FileName:    rec.FileName,
		Status:      string(datastore.OsmDisabled),
		Error:       datastore.NoLocationReason,
		At:          time.Now(),
	})
	log.Info("upload skipped, recording has no location")
	return itemOutcome{status: string(datastore.OsmDisabled)}
}

func (p *Processor) restoreOSM(rec *datastore.Recording, status datastore.OsmStatus, result, msg string, log logger.Logger) {
	if err := p.store.UpdateOSM(rec.ID, status, result, msg); err != nil {
		log.Error("failed to restore upload status", logger.String("status", string(status)), logger.Error(err))
		return
	}
	log.Info("upload interrupted, status restored", logger.String("status", string(status)))
}

// claimFailed handles a failed move to PROCESSING. A rejected transition means
// the row changed under us, usually because another worker took it.
func (p *Processor) claimFailed(err error, log logger.Logger) itemOutcome {
	if errors.IsCategory(err, errors.CategoryValidation) {
		log.Debug("row not claimable, skipping", logger.Error(err))
		return itemOutcome{status: statusSkipped}
	}
	log.Error("failed to update row", logger.Error(err))
	return itemOutcome{status: string(datastore.V2SError), err: err}
}

// failureMessage is the text stored on the row for a failed call
func failureMessage(itemCtx context.Context, err error, what string, timeout time.Duration) string {
	if errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out after %s", what, timeout)
	}
	return err.Error()
}

// ProcessOne runs transcription and then upload for a single recording, the
// same per-item routine the batch uses. The row is reloaded first so the
// current status decides what runs. The returned error reports a stage that
// ended in ERROR.
func (p *Processor) ProcessOne(ctx context.Context, rec *datastore.Recording) error {
	if rec == nil {
		return errors.Newf("recording is nil").
			Component("batch").
			Category(errors.CategoryValidation).
			Build()
	}
	current, err := p.store.Get(rec.ID)
	if err != nil {
		return err
	}
	if logger.TraceIDFromContext(ctx) == "" {
		ctx = logger.WithTraceID(ctx, uuid.NewString())
	}

	var errs []error
	switch current.V2SStatus {
	case datastore.V2SNotStarted, datastore.V2SError:
		out := p.transcribeItem(ctx, current, p.transcribeTimeout(Options{}))
		if out.cancelled {
			return ctx.Err()
		}
		if out.err != nil {
			errs = append(errs, out.err)
		}
	}

	if current.V2SStatus.HasText() {
		switch current.OsmStatus {
		case datastore.OsmNotStarted, datastore.OsmError:
			out := p.uploadItem(ctx, current, p.uploadTimeout(Options{}))
			if out.cancelled {
				return ctx.Err()
			}
			if out.err != nil {
				errs = append(errs, out.err)
			}
		}
	}

	*rec = *current
	return errors.Join(errs...)
}
