// Package recorder captures fixed-length voice notes to WAV files.
package recorder

import "context"

// Format describes the PCM stream a Source delivers
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerSecond returns the data rate of the stream
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// Source delivers little-endian signed PCM frames to a callback until stopped
type Source interface {
	Start(ctx context.Context, onData func([]byte)) error
	Stop() error
	Format() Format
}
