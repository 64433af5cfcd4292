// Package s2s defines the Provider interface for live speech-to-speech engines.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session.
// The Gemini Live API is the reference backend.
//
// The central abstraction is SessionHandle: outbound media frames are sent
// with SendMedia, and everything the engine says comes back, in order, as a
// stream of typed Events. Sessions are long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
)

var (
	// ErrNotReady is returned by SendMedia when the frame cannot be accepted
	// right now: the session is closed, still handshaking, or its outbound
	// queue is full. Callers treat it as a dropped frame, not a failure.
	ErrNotReady = errors.New("s2s: session not ready")

	// ErrRemoteClosed is reported by Err when the engine closed the
	// connection without an error payload.
	ErrRemoteClosed = errors.New("s2s: remote closed the session")
)

// EventKind discriminates the variants of Event.
type EventKind int

const (
	// EventAudio carries a base64 PCM chunk of synthesised speech in Data.
	EventAudio EventKind = iota + 1

	// EventOutputTranscript carries partial text of what the model is saying.
	EventOutputTranscript

	// EventInputTranscript carries partial text of what the user said.
	EventInputTranscript

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInterrupted signals that the engine abandoned the current turn;
	// audio already delivered must not keep playing.
	EventInterrupted

	// EventError carries a remote error message in Text. The session ends
	// after it.
	EventError
)

// String returns the lower-case name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventOutputTranscript:
		return "output_transcript"
	case EventInputTranscript:
		return "input_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one inbound message from the engine.
type Event struct {
	Kind EventKind

	// Data is the base64 payload of an EventAudio.
	Data string

	// MIMEType describes Data, e.g. "audio/pcm;rate=24000".
	MIMEType string

	// Text is set for transcript and error events.
	Text string
}

// Media is one outbound realtime-input frame.
type Media struct {
	// MIMEType tags the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the base64-encoded payload.
	Data string
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Instructions is the system prompt for the session.
	Instructions string

	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// Language is a BCP-47 tag hint for speech recognition and synthesis.
	Language string

	// OutputTranscription asks the engine to stream a text transcript of its
	// spoken output.
	OutputTranscription bool

	// InputTranscription asks the engine to stream a transcript of the user.
	InputTranscription bool
}

// Capabilities describes static properties of the S2S provider.
type Capabilities struct {
	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds. Zero means no documented limit.
	MaxSessionDurationMs int

	// InputSampleRate and OutputSampleRate are the PCM rates the engine
	// expects and produces.
	InputSampleRate  int
	OutputSampleRate int

	// Voices lists the prebuilt voice names.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that
// test code can supply mock implementations without a live connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendMedia queues one realtime-input frame. It never blocks on the
	// network; it returns ErrNotReady when the frame cannot be queued.
	// Frames are transmitted in the order they were accepted.
	SendMedia(m Media) error

	// Events returns the channel of inbound events in arrival order. The
	// channel is closed when the session ends; call Err afterwards.
	Events() <-chan Event

	// Err returns why the Events channel closed: nil after a local Close,
	// ErrRemoteClosed after a clean remote close, or the transport or remote
	// error otherwise.
	Err() error

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new S2S session and returns once the engine has
	// acknowledged the setup. The caller owns the SessionHandle.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
