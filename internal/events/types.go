// Package events carries capture and batch status signals from the workflow
// to log, MQTT, notification and metrics consumers without blocking the caller.
package events

import (
	"strings"
	"time"
)

// Kind names an event type. The values double as MQTT topic suffixes in lower case.
type Kind string

const (
	KindCaptureStarted   Kind = "CAPTURE_STARTED"
	KindLocationAcquired Kind = "LOCATION_ACQUIRED"
	KindRecordingTick    Kind = "RECORDING_TICK"
	KindRecordingSaved   Kind = "RECORDING_SAVED"
	KindTranscribed      Kind = "TRANSCRIBED"
	KindPublished        Kind = "PUBLISHED"
	KindFinishActivity   Kind = "FINISH_ACTIVITY"
	KindBatchProgress    Kind = "BATCH_PROGRESS"
	KindBatchComplete    Kind = "BATCH_COMPLETE"
)

// Topic returns the lower case topic suffix for k
func (k Kind) Topic() string {
	return strings.ToLower(string(k))
}

// Event is anything published on the bus
type Event interface {
	Kind() Kind
	Time() time.Time
}

// Consumer processes events delivered by the bus
type Consumer interface {
	Consume(event Event) error
}

// ConsumerFunc adapts a function to the Consumer interface
type ConsumerFunc func(event Event) error

// Consume calls f
func (f ConsumerFunc) Consume(event Event) error { return f(event) }

// Stats contains runtime statistics for monitoring
type Stats struct {
	EventsReceived  uint64 `json:"eventsReceived"`
	EventsProcessed uint64 `json:"eventsProcessed"`
	EventsDropped   uint64 `json:"eventsDropped"`
	ConsumerErrors  uint64 `json:"consumerErrors"`
}

// CaptureStarted is emitted when a capture run begins
type CaptureStarted struct {
	TraceID string    `json:"traceId"`
	At      time.Time `json:"at"`
}

func (CaptureStarted) Kind() Kind        { return KindCaptureStarted }
func (e CaptureStarted) Time() time.Time { return e.At }

// LocationAcquired reports the fix a capture will be stored with
type LocationAcquired struct {
	TraceID   string    `json:"traceId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Source    string    `json:"source"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func (LocationAcquired) Kind() Kind        { return KindLocationAcquired }
func (e LocationAcquired) Time() time.Time { return e.At }

// RecordingTick is emitted once per countdown step
type RecordingTick struct {
	TraceID   string        `json:"traceId"`
	Remaining time.Duration `json:"remaining"`
	At        time.Time     `json:"at"`
}

func (RecordingTick) Kind() Kind        { return KindRecordingTick }
func (e RecordingTick) Time() time.Time { return e.At }

// RecordingSaved is emitted after the row is persisted
type RecordingSaved struct {
	TraceID     string        `json:"traceId"`
	RecordingID uint          `json:"recordingId"`
	FileName    string        `json:"fileName"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	Duration    time.Duration `json:"duration"`
	At          time.Time     `json:"at"`
}

func (RecordingSaved) Kind() Kind        { return KindRecordingSaved }
func (e RecordingSaved) Time() time.Time { return e.At }

// Transcribed reports the outcome of one transcription
type Transcribed struct {
	RecordingID uint      `json:"recordingId"`
	FileName    string    `json:"fileName"`
	Status      string    `json:"status"`
	Text        string    `json:"text,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

func (Transcribed) Kind() Kind        { return KindTranscribed }
func (e Transcribed) Time() time.Time { return e.At }

// Published reports the outcome of one OSM note upload
type Published struct {
	RecordingID uint      `json:"recordingId"`
	FileName    string    `json:"fileName"`
	Status      string    `json:"status"`
	URL         string    `json:"url,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

func (Published) Kind() Kind        { return KindPublished }
func (e Published) Time() time.Time { return e.At }

// FinishActivity closes a capture run, successful or not
type FinishActivity struct {
	TraceID     string    `json:"traceId"`
	RecordingID uint      `json:"recordingId,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

func (FinishActivity) Kind() Kind        { return KindFinishActivity }
func (e FinishActivity) Time() time.Time { return e.At }

// BatchProgress is emitted after each processed item. Index is 1-based.
type BatchProgress struct {
	Stage    string    `json:"stage"`
	Index    int       `json:"index"`
	Total    int       `json:"total"`
	FileName string    `json:"fileName"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

func (BatchProgress) Kind() Kind        { return KindBatchProgress }
func (e BatchProgress) Time() time.Time { return e.At }

// BatchComplete summarises a finished batch run
type BatchComplete struct {
	Stage     string        `json:"stage"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Fallback  int           `json:"fallback"`
	Disabled  int           `json:"disabled"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

func (BatchComplete) Kind() Kind        { return KindBatchComplete }
func (e BatchComplete) Time() time.Time { return e.At }
