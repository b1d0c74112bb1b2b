package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xino-ai/xino-voice/pkg/audio"
)

// User-facing messages for the error state. Permission problems are
// distinguished from other faults so the user knows what to fix.
const (
	msgMicDenied     = "Mic access denied."
	msgHardwareFault = "Hardware fault."
	msgConnLost      = "Connection to voice service lost or API key invalid."
)

// Session is one live voice session: idle -> connecting -> listening <->
// speaking, with error as a terminal-until-retry state. Exactly one session
// exists per voice surface visit; Close releases every underlying handle
// regardless of which path triggered it.
//
// All state mutations funnel through one event-processing goroutine, so the
// capture stream, the transport receive stream and the visual loop never
// race on session state.
type Session struct {
	cfg    Config
	dial   Dialer
	source Source
	line   OutputLine
	logger Logger
	meter  *audio.LevelMeter

	onStatus func(Status)
	onEnd    func()

	mu         sync.Mutex
	status     Status
	errMsg     string
	inputText  string
	outputText string
	transport  Transport
	capture    *Capture
	scheduler  *Scheduler
	loopDone   chan struct{}
	closing    bool
}

func NewSession(dial Dialer, source Source, line OutputLine, cfg Config) *Session {
	return NewSessionWithLogger(dial, source, line, cfg, &NoOpLogger{})
}

func NewSessionWithLogger(dial Dialer, source Source, line OutputLine, cfg Config, logger Logger) *Session {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Session{
		cfg:    cfg,
		dial:   dial,
		source: source,
		line:   line,
		logger: logger,
		meter:  audio.NewLevelMeter(0.6),
		status: StatusIdle,
	}
}

// SetStatusListener registers a callback invoked on every status change.
// Must be set before Start.
func (s *Session) SetStatusListener(fn func(Status)) {
	s.onStatus = fn
}

// SetEndListener registers a callback invoked when the remote side closes
// the session (the voice surface should exit). Must be set before Start.
func (s *Session) SetEndListener(fn func()) {
	s.onEnd = fn
}

// Start opens the transport and the capture device and begins full-duplex
// streaming. On failure the session enters the error state with a
// user-facing message and the error is also returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusIdle && s.status != StatusError {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.status = StatusConnecting
	s.errMsg = ""
	s.inputText = ""
	s.outputText = ""
	s.closing = false
	s.mu.Unlock()
	s.notify(StatusConnecting)

	tr, err := s.dial(ctx, TransportConfig{
		SystemInstruction: s.cfg.SystemInstruction,
		VoiceName:         s.cfg.VoiceName,
		InputSampleRate:   s.cfg.CaptureSampleRate,
		OutputSampleRate:  s.cfg.OutputSampleRate,
		TranscribeInput:   true,
		TranscribeOutput:  true,
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTransport, err)
		s.enterError(err)
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = tr.Close()
		return ErrSessionClosed
	}
	cap := NewCapture(s.source, s.meter)
	sch := NewScheduler(s.line, s.cfg.OutputSampleRate, s.cfg.Channels)
	done := make(chan struct{})
	s.transport = tr
	s.capture = cap
	s.scheduler = sch
	s.loopDone = done
	s.mu.Unlock()

	if err := cap.Start(s.cfg.BlockSize, s.sendFrame); err != nil {
		// Partial initialization: the transport is already open and must
		// still be released.
		s.teardown()
		s.mu.Lock()
		s.loopDone = nil
		s.mu.Unlock()
		close(done)
		s.enterError(err)
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		// Close raced the connect. Its teardown may have run before the
		// capture device finished opening, so release everything again
		// through the local handles.
		cap.Stop()
		_ = s.source.Close()
		sch.StopAll()
		_ = tr.Close()
		close(done)
		return ErrSessionClosed
	}
	s.status = StatusListening
	s.mu.Unlock()
	s.notify(StatusListening)
	s.logger.Info("voice session started",
		"captureRate", s.cfg.CaptureSampleRate, "outputRate", s.cfg.OutputSampleRate)

	go s.eventLoop(sch, tr.Events(), done)
	return nil
}

// Retry re-runs Start from scratch after a failure. Only valid in the
// error state.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusError {
		s.mu.Unlock()
		return ErrNotRetryable
	}
	s.status = StatusIdle
	s.mu.Unlock()
	return s.Start(ctx)
}

// Close tears the session down from any state, including mid-connect.
// When it returns, no further audio is captured, sent or played and all
// device and network handles are released.
func (s *Session) Close() {
	s.mu.Lock()
	if s.status == StatusIdle {
		s.mu.Unlock()
		return
	}
	s.closing = true
	done := s.loopDone
	sch := s.scheduler
	s.mu.Unlock()

	s.teardown()
	if done != nil {
		<-done
	}
	if sch != nil {
		// Events drained between teardown and loop exit must not leave
		// audio playing after Close returns.
		sch.StopAll()
	}

	s.mu.Lock()
	s.loopDone = nil
	s.status = StatusIdle
	s.inputText = ""
	s.outputText = ""
	s.errMsg = ""
	s.mu.Unlock()
	s.notify(StatusIdle)
	s.logger.Info("voice session closed")
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ErrorMessage returns the user-facing message for the error state.
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// InputTranscript returns the most recent fragment of the user's speech.
// Mutually exclusive with OutputTranscript: whichever side spoke last wins.
func (s *Session) InputTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputText
}

// OutputTranscript returns the most recent fragment of the model's speech.
func (s *Session) OutputTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputText
}

// Level returns the current microphone energy reading for the visual loop.
func (s *Session) Level() float64 {
	return s.meter.Level()
}

// ActiveOutputs returns the number of in-flight playback chunks.
func (s *Session) ActiveOutputs() int {
	s.mu.Lock()
	sch := s.scheduler
	s.mu.Unlock()
	if sch == nil {
		return 0
	}
	return sch.Active()
}

// PlaybackCursor returns the scheduler's next-start cursor in seconds.
func (s *Session) PlaybackCursor() float64 {
	s.mu.Lock()
	sch := s.scheduler
	s.mu.Unlock()
	if sch == nil {
		return 0
	}
	return sch.Cursor()
}

// sendFrame forwards one captured frame to the transport. Frames are
// dropped once the session is no longer live; transport-side failures
// surface through the event stream, not here.
func (s *Session) sendFrame(frame []byte) {
	s.mu.Lock()
	tr := s.transport
	st := s.status
	s.mu.Unlock()
	if tr == nil || (st != StatusListening && st != StatusSpeaking) {
		return
	}
	if err := tr.SendAudio(frame); err != nil {
		s.logger.Warn("audio frame send failed", "error", err)
	}
}

// eventLoop is the single mutation point for session state. It consumes
// transport events in arrival order and playback-finished signals, and
// exits on error, remote close or local Close.
func (s *Session) eventLoop(sch *Scheduler, events <-chan Event, done chan struct{}) {
	defer close(done)
	finished := make(chan struct{}, 256)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Channel closed without a terminal event: local Close is
				// already tearing down, anything else is a remote hangup.
				s.mu.Lock()
				closing := s.closing
				s.mu.Unlock()
				if !closing {
					s.endFromRemote()
				}
				return
			}
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				// Local Close is in progress; buffered events must not
				// schedule audio or mutate state while it drains.
				continue
			}
			switch ev.Kind {
			case EventInputTranscript:
				s.mu.Lock()
				s.inputText = ev.Text
				s.outputText = ""
				s.mu.Unlock()

			case EventOutputTranscript:
				s.mu.Lock()
				s.outputText = ev.Text
				s.inputText = ""
				s.mu.Unlock()

			case EventAudioChunk:
				s.handleAudioChunk(sch, ev.Audio, finished)

			case EventInterrupted:
				// Barge-in: hard-stop everything scheduled, reset the
				// cursor, drop both transcript fragments.
				sch.StopAll()
				s.mu.Lock()
				s.inputText = ""
				s.outputText = ""
				changed := s.status == StatusSpeaking
				if changed {
					s.status = StatusListening
				}
				s.mu.Unlock()
				if changed {
					s.notify(StatusListening)
				}

			case EventError:
				s.logger.Error("voice transport error", "error", ev.Err)
				s.teardown()
				s.enterError(fmt.Errorf("%w: %v", ErrTransport, ev.Err))
				return

			case EventClosed:
				s.endFromRemote()
				return
			}

		case <-finished:
			s.mu.Lock()
			if s.status == StatusSpeaking && sch.Active() == 0 {
				s.status = StatusListening
				s.mu.Unlock()
				s.notify(StatusListening)
			} else {
				s.mu.Unlock()
			}
		}
	}
}

func (s *Session) handleAudioChunk(sch *Scheduler, pcm []byte, finished chan struct{}) {
	// Defensive decode check: one bad chunk is dropped, the session stays
	// healthy.
	if _, err := audio.DecodeFrame(pcm, s.cfg.Channels); err != nil {
		s.logger.Warn("dropping malformed audio chunk", "bytes", len(pcm), "error", err)
		return
	}

	sch.Schedule(pcm, func() {
		select {
		case finished <- struct{}{}:
		default:
		}
	})

	s.mu.Lock()
	if s.status == StatusListening {
		s.status = StatusSpeaking
		s.mu.Unlock()
		s.notify(StatusSpeaking)
		return
	}
	s.mu.Unlock()
}

// endFromRemote handles a normal session end initiated by the far side.
func (s *Session) endFromRemote() {
	s.teardown()
	s.mu.Lock()
	s.status = StatusIdle
	s.inputText = ""
	s.outputText = ""
	s.mu.Unlock()
	s.notify(StatusIdle)
	if s.onEnd != nil {
		s.onEnd()
	}
}

// teardown stops capture and playback and closes the transport. Safe to
// call more than once; every component it touches is idempotent.
func (s *Session) teardown() {
	s.mu.Lock()
	tr := s.transport
	cap := s.capture
	sch := s.scheduler
	s.transport = nil
	s.capture = nil
	s.scheduler = nil
	s.mu.Unlock()

	if cap != nil {
		cap.Stop()
	}
	if sch != nil {
		sch.StopAll()
	}
	if tr != nil {
		_ = tr.Close()
	}
}

func (s *Session) enterError(err error) {
	msg := msgHardwareFault
	switch {
	case errors.Is(err, ErrPermissionDenied):
		msg = msgMicDenied
	case errors.Is(err, ErrTransport):
		msg = msgConnLost
	}

	s.mu.Lock()
	if s.closing {
		// User already closed the session; do not resurrect it as an error.
		s.mu.Unlock()
		return
	}
	s.status = StatusError
	s.errMsg = msg
	s.mu.Unlock()
	s.notify(StatusError)
}

func (s *Session) notify(st Status) {
	if s.onStatus != nil {
		s.onStatus(st)
	}
}
