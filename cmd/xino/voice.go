package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xino-ai/xino-voice/pkg/audio"
	"github.com/xino-ai/xino-voice/pkg/device"
	"github.com/xino-ai/xino-voice/pkg/gemini"
	"github.com/xino-ai/xino-voice/pkg/voice"
)

const voicePersona = "You are Xino, a hyper-advanced neural assistant. All responses must be in English. Respond with short, concise, high-impact verbal bursts. Be professional and cold."

type screenResult int

const (
	screenClosed screenResult = iota
	screenError
	screenEnded
)

// runVoice owns the live voice surface: devices, transport and session are
// created on entry and fully released on exit, whatever ends the visit.
func (a *app) runVoice(ctx context.Context, stdin *bufio.Scanner) error {
	engine, err := device.NewEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	cfg := voice.DefaultConfig()
	cfg.SystemInstruction = voicePersona

	mic := device.NewMic(engine, cfg.CaptureSampleRate)
	speaker := device.NewSpeaker(engine, cfg.OutputSampleRate)
	if err := speaker.Start(); err != nil {
		return err
	}
	defer speaker.Close()

	live := gemini.NewLive(a.apiKey)
	live.SetLogger(&zapVoiceLogger{s: a.logger.Sugar()})
	live.SetModel(os.Getenv("XINO_LIVE_MODEL"))

	var source voice.Source = mic
	var rec *recordingSource
	if a.recordPath != "" {
		rec = &recordingSource{inner: mic}
		source = rec
	}

	session := voice.NewSessionWithLogger(live.Dial, source, speaker, cfg, &zapVoiceLogger{s: a.logger.Sugar()})

	errCh := make(chan struct{}, 1)
	endCh := make(chan struct{}, 1)
	session.SetStatusListener(func(st voice.Status) {
		if st == voice.StatusError {
			select {
			case errCh <- struct{}{}:
			default:
			}
		}
	})
	session.SetEndListener(func() {
		select {
		case endCh <- struct{}{}:
		default:
		}
	})

	for {
		drain(errCh)
		drain(endCh)
		result := a.voiceScreen(ctx, stdin, session, errCh, endCh)
		if result != screenError {
			break
		}
		if !strings.EqualFold(prompt(stdin, "Retry? (y/n): "), "y") {
			break
		}
	}
	session.Close()

	if rec != nil {
		if err := os.WriteFile(a.recordPath, rec.WAV(cfg.CaptureSampleRate), 0o644); err != nil {
			fmt.Printf("Failed to write recording: %v\n", err)
		} else {
			fmt.Printf("Recording saved to %s\n", a.recordPath)
		}
	}
	return nil
}

// voiceScreen runs one session attempt and blocks until something ends it:
// the user (Enter or Ctrl+C), the remote side, or an error.
func (a *app) voiceScreen(ctx context.Context, stdin *bufio.Scanner, session *voice.Session, errCh, endCh <-chan struct{}) screenResult {
	if err := session.Start(ctx); err != nil {
		fmt.Printf("Error: %s\n", session.ErrorMessage())
		return screenError
	}
	fmt.Println("Voice link active. Press Enter or Ctrl+C to end.")

	quit := make(chan struct{})
	go func() {
		stdin.Scan()
		close(quit)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	paintDone := make(chan struct{})
	go paintVoice(session, paintDone)

	result := screenClosed
	select {
	case <-quit:
	case <-sig:
	case <-endCh:
		result = screenEnded
	case <-errCh:
		result = screenError
	}
	close(paintDone)
	fmt.Println()

	switch result {
	case screenEnded:
		fmt.Println("Session ended by the remote side.")
	case screenError:
		fmt.Printf("Error: %s\n", session.ErrorMessage())
	default:
		session.Close()
	}

	// The Enter reader is still pending unless the user ended the visit;
	// consume it so the chat prompt does not lose a line.
	select {
	case <-quit:
	default:
		fmt.Println("Press Enter to return.")
		<-quit
	}
	return result
}

// paintVoice repaints the status line with the mic energy meter and the
// latest transcript fragment until told to stop.
func paintVoice(session *voice.Session, done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			level := session.Level()
			dots := int(level * 500)
			if dots > 30 {
				dots = 30
			}
			meter := strings.Repeat("|", dots)

			text := session.OutputTranscript()
			if text == "" {
				text = session.InputTranscript()
			}
			if len(text) > 60 {
				text = "..." + text[len(text)-57:]
			}
			fmt.Printf("\r\033[K[%-10s] [%-30s] %s", strings.ToUpper(string(session.Status())), meter, text)
		}
	}
}

// recordingSource tees captured blocks into a PCM buffer for the --record
// WAV dump without disturbing the capture path.
type recordingSource struct {
	inner voice.Source

	mu  sync.Mutex
	pcm []byte
}

func (r *recordingSource) Open(blockSize int, onBlock func([]float32)) error {
	return r.inner.Open(blockSize, func(block []float32) {
		frame := audio.EncodeFrame(block)
		r.mu.Lock()
		r.pcm = append(r.pcm, frame...)
		r.mu.Unlock()
		onBlock(block)
	})
}

func (r *recordingSource) Close() error {
	return r.inner.Close()
}

func (r *recordingSource) WAV(sampleRate int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return audio.NewWAVBuffer(r.pcm, sampleRate)
}

func drain(ch <-chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// zapVoiceLogger adapts zap's sugared logger to the voice.Logger interface.
type zapVoiceLogger struct {
	s *zap.SugaredLogger
}

func (l *zapVoiceLogger) Debug(msg string, args ...interface{}) { l.s.Debugw(msg, args...) }
func (l *zapVoiceLogger) Info(msg string, args ...interface{})  { l.s.Infow(msg, args...) }
func (l *zapVoiceLogger) Warn(msg string, args ...interface{})  { l.s.Warnw(msg, args...) }
func (l *zapVoiceLogger) Error(msg string, args ...interface{}) { l.s.Errorw(msg, args...) }
