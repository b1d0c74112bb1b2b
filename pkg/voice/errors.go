package voice

import "errors"

// Error kinds surfaced by the session. All are caught at the session
// boundary and converted into the error state plus a short message.
var (
	// ErrPermissionDenied is returned when the user or OS declines
	// microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrDeviceUnavailable is returned when audio hardware cannot be
	// initialized.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrTransport is returned when the remote channel reports a failure.
	ErrTransport = errors.New("voice transport failed")

	// ErrSessionActive is returned when Start is called on a session that
	// is already running.
	ErrSessionActive = errors.New("voice session already active")

	// ErrNotRetryable is returned when Retry is called outside the error
	// state.
	ErrNotRetryable = errors.New("voice session is not in a retryable state")

	// ErrSessionClosed is returned when Close pre-empts an in-flight
	// connection attempt.
	ErrSessionClosed = errors.New("voice session closed")
)
