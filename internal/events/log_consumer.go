package events

import (
	"fmt"

	"github.com/tphakala/ridenote/internal/logger"
)

// LogConsumer writes every event to the structured log. Countdown ticks go
// to debug level.
type LogConsumer struct {
	log logger.Logger
}

// NewLogConsumer creates a consumer logging to the events module
func NewLogConsumer() *LogConsumer {
	return &LogConsumer{log: logger.Global().Module("events")}
}

// Consume logs one event
func (c *LogConsumer) Consume(event Event) error {
	kind := logger.String("kind", string(event.Kind()))

	switch e := event.(type) {
	case CaptureStarted:
		c.log.Info("capture started", kind, logger.String("trace_id", e.TraceID))
	case LocationAcquired:
		fields := []logger.Field{kind,
			logger.String("coordinates", fmt.Sprintf("%.6f,%.6f", e.Latitude, e.Longitude)),
			logger.String("source", e.Source)}
		if e.Error != "" {
			c.log.Warn("location unavailable", append(fields, logger.String("error", e.Error))...)
			return nil
		}
		c.log.Info("location acquired", fields...)
	case RecordingTick:
		c.log.Debug("recording", kind, logger.Duration("remaining", e.Remaining))
	case RecordingSaved:
		c.log.Info("recording saved", kind,
			logger.Uint64("recording_id", uint64(e.RecordingID)),
			logger.String("file", e.FileName),
			logger.Duration("duration", e.Duration))
	case Transcribed:
		c.log.Info("transcription finished", kind,
			logger.String("file", e.FileName),
			logger.String("status", e.Status))
	case Published:
		c.log.Info("note upload finished", kind,
			logger.String("file", e.FileName),
			logger.String("status", e.Status),
			logger.String("url", e.URL))
	case FinishActivity:
		if e.Error != "" {
			c.log.Warn("capture finished with error", kind, logger.String("error", e.Error))
			return nil
		}
		c.log.Info("capture finished", kind, logger.String("file", e.FileName))
	case BatchProgress:
		c.log.Info("batch progress", kind,
			logger.String("stage", e.Stage),
			logger.Int("index", e.Index),
			logger.Int("total", e.Total),
			logger.String("file", e.FileName),
			logger.String("status", e.Status))
	case BatchComplete:
		c.log.Info("batch complete", kind,
			logger.String("stage", e.Stage),
			logger.Int("processed", e.Processed),
			logger.Int("succeeded", e.Succeeded),
			logger.Int("failed", e.Failed),
			logger.Int("fallback", e.Fallback),
			logger.Duration("duration", e.Duration))
	default:
		c.log.Debug("event", kind)
	}
	return nil
}
