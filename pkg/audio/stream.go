package audio

import (
	"errors"
	"time"
)

// ErrClosed is returned by Output and Input implementations after Close.
var ErrClosed = errors.New("audio: closed")

// Input is an open capture stream. Each value on Frames is one fixed-size
// buffer of mono float samples in [-1, 1]. The channel is closed when the
// stream ends.
type Input interface {
	Frames() <-chan []float32
	Close() error
}

// Output is an open playback context with its own monotonic clock. Clips are
// scheduled at absolute positions on that clock.
//
// Implementations must be safe for concurrent use. onEnded callbacks must be
// invoked without holding any lock of the Output, never from within Play, and
// only for clips that played to completion.
type Output interface {
	// Format returns the PCM format Play expects.
	Format() Format

	// Now returns the current playback position.
	Now() time.Duration

	// Play schedules 16-bit PCM to start at position at. A position already
	// in the past starts immediately.
	Play(pcm []byte, at time.Duration, onEnded func()) (Playback, error)

	// Close stops all playback and releases the context. Idempotent.
	Close() error
}

// Playback is a handle on one scheduled clip.
type Playback interface {
	// Stop cancels the clip whether it is pending or playing. Stopping an
	// already finished clip is a no-op. onEnded is not called for stopped
	// clips.
	Stop()
}
