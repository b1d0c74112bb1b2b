// Package gemini talks to the Gemini API: the Live websocket endpoint for
// real-time voice and the REST models endpoint (via the genai SDK) for chat.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/xino-ai/xino-voice/pkg/audio"
	"github.com/xino-ai/xino-voice/pkg/voice"
)

const (
	defaultLiveModel = "gemini-2.5-flash-native-audio-preview-12-2025"

	livePath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Live dials BidiGenerateContent sessions. One Live value can open any
// number of independent sessions.
type Live struct {
	apiKey string
	host   string
	scheme string
	model  string
	logger voice.Logger
}

func NewLive(apiKey string) *Live {
	return &Live{
		apiKey: apiKey,
		host:   "generativelanguage.googleapis.com",
		scheme: "wss",
		model:  defaultLiveModel,
		logger: &voice.NoOpLogger{},
	}
}

// SetLogger replaces the no-op logger. Must be called before Dial.
func (l *Live) SetLogger(logger voice.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// SetModel overrides the default live model. Must be called before Dial.
func (l *Live) SetModel(model string) {
	if model != "" {
		l.model = model
	}
}

// Dial opens a live session and completes the setup handshake. The returned
// transport delivers server messages, in arrival order, on its event channel
// until the session ends. Dial satisfies voice.Dialer as a method value.
func (l *Live) Dial(ctx context.Context, cfg voice.TransportConfig) (voice.Transport, error) {
	u := url.URL{
		Scheme:   l.scheme,
		Host:     l.host,
		Path:     livePath,
		RawQuery: "key=" + url.QueryEscape(l.apiKey),
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gemini live: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)

	setup := liveSetup{Model: "models/" + l.model}
	setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	if cfg.VoiceName != "" {
		setup.GenerationConfig.SpeechConfig = &liveSpeechConfig{
			VoiceConfig: liveVoiceConfig{
				PrebuiltVoiceConfig: livePrebuiltVoice{VoiceName: cfg.VoiceName},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &liveContent{
			Parts: []livePart{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.TranscribeInput {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.TranscribeOutput {
		setup.OutputAudioTranscription = &struct{}{}
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Setup: &setup}); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "failed to write setup")
		return nil, fmt.Errorf("failed to send live setup: %w", err)
	}

	// The server acknowledges setup before any media flows.
	_, payload, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "failed to read")
		return nil, fmt.Errorf("failed to read setup ack: %w", err)
	}
	var ack serverMessage
	if err := json.Unmarshal(payload, &ack); err != nil || ack.SetupComplete == nil {
		conn.Close(websocket.StatusProtocolError, "unexpected setup ack")
		return nil, fmt.Errorf("unexpected live setup ack: %s", payload)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &liveSession{
		conn:      conn,
		events:    make(chan voice.Event, 1024),
		inputRate: cfg.InputSampleRate,
		logger:    l.logger,
		ctx:       sctx,
		cancel:    cancel,
		closed:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// liveSession is one open BidiGenerateContent websocket.
type liveSession struct {
	conn      *websocket.Conn
	events    chan voice.Event
	inputRate int
	logger    voice.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *liveSession) Events() <-chan voice.Event {
	return s.events
}

// SendAudio ships one capture frame inside a realtimeInput envelope. Write
// failures are returned for logging only; the authoritative failure signal
// is the ERROR event produced by the read loop.
func (s *liveSession) SendAudio(frame []byte) error {
	msg := clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []liveBlob{{
			MimeType: fmt.Sprintf("audio/pcm;rate=%d", s.inputRate),
			Data:     audio.ToTransportText(frame),
		}},
	}}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(s.ctx, s.conn, msg)
}

func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

func (s *liveSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// readLoop translates server messages into transport events until the
// connection ends. It owns the event channel and closes it on exit.
func (s *liveSession) readLoop() {
	defer close(s.events)

	for {
		_, payload, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.isClosed() {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.emitTerminal(voice.Event{Kind: voice.EventClosed})
				return
			}
			s.emitTerminal(voice.Event{Kind: voice.EventError, Err: fmt.Errorf("live read: %w", err)})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.conn.Close(websocket.StatusProtocolError, "bad server message")
			s.emitTerminal(voice.Event{Kind: voice.EventError, Err: fmt.Errorf("malformed server message: %w", err)})
			return
		}

		sc := msg.ServerContent
		if sc == nil {
			continue
		}
		if sc.InputTranscription != nil {
			s.emit(voice.Event{Kind: voice.EventInputTranscript, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil {
			s.emit(voice.Event{Kind: voice.EventOutputTranscript, Text: sc.OutputTranscription.Text})
		}
		if sc.Interrupted {
			s.emit(voice.Event{Kind: voice.EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil {
					continue
				}
				pcm, err := audio.FromTransportText(part.InlineData.Data)
				if err != nil {
					s.logger.Warn("skipping undecodable audio part", "error", err)
					continue
				}
				s.emit(voice.Event{Kind: voice.EventAudioChunk, Audio: pcm})
			}
		}
	}
}

func (s *liveSession) emit(ev voice.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("dropping live event, channel full", "kind", ev.Kind)
	}
}

// emitTerminal delivers a stream-ending event. Unlike emit it never drops:
// the session must observe ERROR and CLOSED even when the buffer is full.
// Local Close unblocks a stalled send.
func (s *liveSession) emitTerminal(ev voice.Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}
