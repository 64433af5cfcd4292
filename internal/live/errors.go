package live

import "errors"

var (
	// ErrMicrophoneDenied is returned by Start when the capture device
	// refused access or could not be opened.
	ErrMicrophoneDenied = errors.New("live: microphone access denied")

	// ErrPermissionDenied is an alias of ErrMicrophoneDenied.
	ErrPermissionDenied = ErrMicrophoneDenied

	// ErrOutputUnavailable is returned by Start when the playback context
	// could not be opened.
	ErrOutputUnavailable = errors.New("live: audio output unavailable")

	// ErrConnectionFailed is returned by Start when the engine handshake
	// fails or Start is aborted by Stop.
	ErrConnectionFailed = errors.New("live: connection failed")

	// ErrRemoteError is the teardown cause when the engine reports an error.
	ErrRemoteError = errors.New("live: remote error")

	// ErrRemoteClosed is the teardown cause when the engine closes the
	// session.
	ErrRemoteClosed = errors.New("live: remote closed")

	// ErrCaptureEnded is the teardown cause when the microphone stream ends
	// on its own.
	ErrCaptureEnded = errors.New("live: capture ended")

	// ErrSessionAlreadyActive is returned by Start while a session is
	// connecting or connected.
	ErrSessionAlreadyActive = errors.New("live: session already active")
)
