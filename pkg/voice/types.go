// Package voice implements the real-time voice session: microphone capture,
// duplex streaming to a remote voice service, gapless playback scheduling
// and the session state machine coordinating them.
package voice

import "context"

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Status is the user-visible state of a voice session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusListening  Status = "listening"
	StatusSpeaking   Status = "speaking"
	StatusError      Status = "error"
)

// EventKind discriminates transport events.
type EventKind string

const (
	EventInputTranscript  EventKind = "INPUT_TRANSCRIPT"
	EventOutputTranscript EventKind = "OUTPUT_TRANSCRIPT"
	EventAudioChunk       EventKind = "AUDIO_CHUNK"
	EventInterrupted      EventKind = "INTERRUPTED"
	EventError            EventKind = "ERROR"
	EventClosed           EventKind = "CLOSED"
)

// Event is one message received from the remote voice service. Text is set
// for transcript events, Audio for audio chunks, Err for error events.
type Event struct {
	Kind  EventKind
	Text  string
	Audio []byte
	Err   error
}

// Transport is the duplex streaming channel to the remote voice endpoint.
// Events must be delivered in arrival order on a single channel, which is
// closed after a CLOSED or ERROR event (or after Close).
type Transport interface {
	// SendAudio sends one encoded capture frame. Send failures surface as
	// an ERROR event on the event stream, not as a hard error here.
	SendAudio(frame []byte) error
	Events() <-chan Event
	// Close is idempotent and releases remote resources.
	Close() error
}

// TransportConfig describes the session the transport should open.
type TransportConfig struct {
	SystemInstruction string
	VoiceName         string
	InputSampleRate   int
	OutputSampleRate  int
	TranscribeInput   bool
	TranscribeOutput  bool
}

// Dialer opens a transport. Implementations live outside this package;
// pkg/gemini provides the real one.
type Dialer func(ctx context.Context, cfg TransportConfig) (Transport, error)

// Source is an audio capture device delivering fixed-size blocks of
// normalized mono samples. Open fails with ErrPermissionDenied or
// ErrDeviceUnavailable; Close must be idempotent.
type Source interface {
	Open(blockSize int, onBlock func([]float32)) error
	Close() error
}

// OutputLine is an output audio clock plus playback sink. Now returns the
// line's monotonic time in seconds. Play enqueues a scheduled chunk; the
// line drives it to completion (calling its Finish) unless it is cancelled
// first, in which case the chunk is discarded silently.
type OutputLine interface {
	Now() float64
	Play(c *ScheduledChunk)
}

// Config holds the audio parameters of a voice session.
type Config struct {
	CaptureSampleRate int
	OutputSampleRate  int
	Channels          int
	// BlockSize is the number of capture samples per outbound frame.
	BlockSize         int
	SystemInstruction string
	VoiceName         string
}

func DefaultConfig() Config {
	return Config{
		CaptureSampleRate: 16000,
		OutputSampleRate:  24000,
		Channels:          1,
		BlockSize:         4096,
		VoiceName:         "Zephyr",
	}
}
