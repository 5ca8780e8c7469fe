// conf/consts.go hard coded constants
package conf

import "time"

const (
	SampleRate  = 16000 // capture sample rate accepted by the speech API without resampling
	BitDepth    = 16    // bits per sample of recorded audio
	NumChannels = 1     // recordings are mono

	DefaultRecordingDuration = 10 * time.Second

	// Stage deadlines of the capture workflow and batch processor
	AnnounceInitTimeout   = 10 * time.Second
	LocationTimeout       = 30 * time.Second
	TranscribeItemTimeout = 60 * time.Second
	UploadItemTimeout     = 120 * time.Second
)
