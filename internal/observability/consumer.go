package observability

import (
	"github.com/tphakala/ridenote/internal/events"
	"github.com/tphakala/ridenote/internal/observability/metrics"
)

// Consume updates the collectors from bus events, making Metrics an events.Consumer
func (m *Metrics) Consume(event events.Event) error {
	switch e := event.(type) {
	case events.CaptureStarted:
		m.Capture.CaptureStarted()
	case events.LocationAcquired:
		m.Capture.RecordLocationSource(e.Source)
	case events.RecordingTick:
		m.Capture.Tick()
	case events.RecordingSaved:
		m.Capture.ObserveRecording(e.Duration)
	case events.FinishActivity:
		result := metrics.ResultSuccess
		if e.Error != "" {
			result = metrics.ResultError
		}
		m.Capture.CaptureFinished(result)
	case events.BatchProgress:
		m.Batch.RecordItem(e.Stage, e.Status, 0)
	case events.BatchComplete:
		result := metrics.ResultSuccess
		switch {
		case e.Cancelled:
			result = metrics.ResultCancelled
		case e.Failed > 0:
			result = metrics.ResultError
		}
		m.Batch.RecordRun(e.Stage, result, e.Duration, e.Processed, e.Succeeded, e.Failed, e.Fallback)
	}
	return nil
}
