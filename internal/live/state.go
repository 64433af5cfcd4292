package live

import (
	"time"

	"github.com/MrWong99/minutas/internal/meeting"
)

// State is the lifecycle state of a live session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is a point-in-time snapshot of a [Bridge].
type Status struct {
	State    State
	Language meeting.Language

	// Volume is the RMS level (x100) of the latest capture buffer.
	Volume float64

	// Transcript is the running text of the model's current utterance.
	Transcript string

	// LastResponse is the text of the last completed model turn. It
	// survives teardown so the final answer stays visible.
	LastResponse string

	SentFrames    int64
	DroppedFrames int64

	// Scheduled is the number of playback buffers in flight and Cursor the
	// next start position on the output clock.
	Scheduled int
	Cursor    time.Duration

	// LastError is the cause of the most recent teardown, nil after Stop.
	LastError error
}
