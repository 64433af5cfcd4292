// Package audio holds the PCM primitives shared by the live session bridge,
// the transcription providers and the local device adapters.
//
// Everything in this package works on little-endian signed 16-bit PCM unless
// a function name says otherwise. Float samples are normalised to [-1, 1].
package audio

import (
	"fmt"
	"time"
)

// Standard formats used by the live conversational engine.
var (
	// LiveInput is what the engine expects from the microphone.
	LiveInput = Format{SampleRate: 16000, Channels: 1}

	// LiveOutput is what the engine synthesises.
	LiveOutput = Format{SampleRate: 24000, Channels: 1}
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "24000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// PCMMIMEType returns the mime type the live engine uses to tag raw PCM of
// this format, e.g. "audio/pcm;rate=16000".
func (f Format) PCMMIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Duration returns how long n bytes of 16-bit PCM in this format play for.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := int64(n / (2 * f.Channels))
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Frame is a block of 16-bit PCM audio with its format.
type Frame struct {
	// Data is little-endian int16 PCM, interleaved when Channels > 1.
	Data []byte

	Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of per-channel sample frames in f.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Drain reads from ch until the channel is closed, discarding all values.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
