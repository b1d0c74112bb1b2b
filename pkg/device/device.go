// Package device provides the malgo-backed microphone source and speaker
// line used by a live voice session. Both are created per session and
// released on teardown; no package-level audio state survives a session.
package device

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/xino-ai/xino-voice/pkg/voice"
)

// Engine wraps one malgo context shared by the session's devices.
type Engine struct {
	ctx *malgo.AllocatedContext
}

func NewEngine() (*Engine, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", voice.ErrDeviceUnavailable, err)
	}
	return &Engine{ctx: mctx}, nil
}

func (e *Engine) Close() {
	if e.ctx != nil {
		_ = e.ctx.Uninit()
		e.ctx.Free()
		e.ctx = nil
	}
}

// mapDeviceErr distinguishes OS-level access denial from other hardware
// failures so the session can show the right message.
func mapDeviceErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "access denied") {
		return fmt.Errorf("%w: %v", voice.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", voice.ErrDeviceUnavailable, err)
}
