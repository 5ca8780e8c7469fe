package metrics

import "time"

// Stage labels
const (
	StageLocation   = "location"
	StageAnnounce   = "announce"
	StageRecording  = "recording"
	StagePersist    = "persist"
	StageExport     = "export"
	StageTranscribe = "transcribe"
	StageUpload     = "osm"
)

// Result labels
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// Histogram bucket parameters
const (
	BucketStart1ms  = 0.001
	BucketStart10ms = 0.01
	BucketStart1s   = 1.0
	BucketStart64B  = 64.0

	BucketFactor2 = 2

	BucketCount10 = 10
	BucketCount12 = 12
	BucketCount15 = 15
)

const (
	// ShutdownTimeout bounds the metrics server shutdown
	ShutdownTimeout = 5 * time.Second
)
