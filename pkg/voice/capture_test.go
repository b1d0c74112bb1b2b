package voice

import (
	"sync"
	"testing"

	"github.com/xino-ai/xino-voice/pkg/audio"
)

type fakeSource struct {
	mu       sync.Mutex
	openErr  error
	onBlock  func([]float32)
	opened   int
	closed   int
	reqBlock int
}

func (s *fakeSource) Open(blockSize int, cb func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened++
	s.reqBlock = blockSize
	s.onBlock = cb
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.onBlock = nil
	return nil
}

func (s *fakeSource) emit(block []float32) {
	s.mu.Lock()
	cb := s.onBlock
	s.mu.Unlock()
	if cb != nil {
		cb(block)
	}
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestCaptureEncodesBlocksInOrder(t *testing.T) {
	src := &fakeSource{}
	meter := audio.NewLevelMeter(0)
	c := NewCapture(src, meter)

	var frames [][]byte
	if err := c.Start(4, func(frame []byte) { frames = append(frames, frame) }); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	src.emit([]float32{0.5, 0.5, 0.5, 0.5})
	src.emit([]float32{0, 0, 0, 0})

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	wantFirst := audio.EncodeFrame([]float32{0.5, 0.5, 0.5, 0.5})
	if string(frames[0]) != string(wantFirst) {
		t.Error("first frame not encoded as expected")
	}
	if meter.Level() != 0 {
		// Second block was silence; with no smoothing the meter reads 0.
		t.Errorf("expected meter at 0 after silent block, got %f", meter.Level())
	}
}

func TestCaptureMetersAtSubFrameCadence(t *testing.T) {
	src := &fakeSource{}
	meter := audio.NewLevelMeter(0)
	c := NewCapture(src, meter)

	frames := 0
	if err := c.Start(1024, func([]byte) { frames++ }); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// The source is asked for meter-sized blocks, not full frames.
	src.mu.Lock()
	req := src.reqBlock
	src.mu.Unlock()
	if req != meterBlockSamples {
		t.Fatalf("expected source opened with %d-sample blocks, got %d", meterBlockSamples, req)
	}

	// A single sub-frame block refreshes the meter without producing a
	// frame yet.
	loud := make([]float32, meterBlockSamples)
	for i := range loud {
		loud[i] = 0.5
	}
	src.emit(loud)
	if meter.Level() == 0 {
		t.Error("meter not updated before a full frame accumulated")
	}
	if frames != 0 {
		t.Errorf("partial data produced %d frames", frames)
	}

	// Three more sub-blocks complete the 1024-sample frame.
	for i := 0; i < 3; i++ {
		src.emit(make([]float32, meterBlockSamples))
	}
	if frames != 1 {
		t.Errorf("expected 1 frame after a full block of samples, got %d", frames)
	}
}

func TestCaptureStartFailurePropagates(t *testing.T) {
	src := &fakeSource{openErr: ErrPermissionDenied}
	c := NewCapture(src, nil)

	err := c.Start(4, func([]byte) {})
	if err == nil {
		t.Fatal("expected error from denied source")
	}
	// A failed start may be attempted again once the source recovers.
	src.mu.Lock()
	src.openErr = nil
	src.mu.Unlock()
	if err := c.Start(4, func([]byte) {}); err != nil {
		t.Fatalf("restart after failure should succeed, got %v", err)
	}
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	c := NewCapture(src, nil)
	if err := c.Start(4, func([]byte) {}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	c.Stop()
	c.Stop()
	if src.closeCount() != 1 {
		t.Errorf("expected one source close, got %d", src.closeCount())
	}

	// Stopped source no longer delivers blocks.
	delivered := false
	src.emit([]float32{1})
	if delivered {
		t.Error("block delivered after stop")
	}
}
