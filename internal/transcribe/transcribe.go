// Package transcribe turns recorded voice notes into text.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/recorder"
)

// ErrNoSpeech is returned when the engine answered but recognised nothing
var ErrNoSpeech = errors.NewStd("no speech recognised")

// Audio is a complete WAV file ready to be sent for recognition
type Audio struct {
	Path       string
	Data       []byte
	SampleRate int
	Channels   int
}

// Result is the best transcript returned by the engine
type Result struct {
	Text       string
	Confidence float64
	Language   string
}

// Engine transcribes a whole clip in one request
type Engine interface {
	Transcribe(ctx context.Context, audio Audio) (Result, error)
}

// LoadAudio reads a WAV file and its header
func LoadAudio(path string) (Audio, error) {
	info, err := recorder.ReadWAVInfo(path)
	if err != nil {
		return Audio{}, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the recording store
	if err != nil {
		return Audio{}, errors.New(err).
			Component("transcribe").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return Audio{Path: path, Data: data, SampleRate: info.SampleRate, Channels: info.Channels}, nil
}

// Fallback builds the placeholder note text stored when no transcript is available
func Fallback(lat, lon float64, at time.Time) string {
	return fmt.Sprintf("Voice note %s at %.6f,%.6f", at.Format("2006-01-02 15:04"), lat, lon)
}
