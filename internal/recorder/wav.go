package recorder

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/tphakala/ridenote/internal/errors"
)

// FileName returns the audio file name for a capture started at t,
// e.g. ridenote_20261019_143000_1a2b3c4d.wav
func FileName(t time.Time) string {
	id := uuid.New()
	return "ridenote_" + t.Format("20060102_150405") + "_" + hex.EncodeToString(id[:4]) + ".wav"
}

// WAVInfo is the header information of a WAV file
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// ReadWAVInfo decodes the header of a PCM WAV file
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the recordings directory or an import glob
	if err != nil {
		return WAVInfo{}, errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return WAVInfo{}, errors.Newf("not a valid WAV file").
			Component("recorder").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	dur, err := dec.Duration()
	if err != nil {
		return WAVInfo{}, errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	return WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   dur,
	}, nil
}

// writeWAV writes 16-bit little-endian PCM to path
func writeWAV(path string, pcm []byte, format Format) error {
	f, err := os.Create(path) //nolint:gosec // path is built from the recordings directory
	if err != nil {
		return errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	buf := &audio.IntBuffer{
		Data:           pcmToInts(pcm),
		Format:         &audio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
		SourceBitDepth: format.BitDepth,
	}

	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return f.Close()
}

func pcmToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return samples
}
