package voice

import (
	"fmt"
	"sync"

	"github.com/xino-ai/xino-voice/pkg/audio"
)

// meterBlockSamples sizes the blocks requested from the source: small
// enough that the level meter refreshes near the visual cadence (~16 ms
// at 16 kHz) while the frames handed to the sink keep their full size.
const meterBlockSamples = 256

// Capture pulls small blocks of normalized samples from a Source, feeds
// each one to the level meter, and aggregates them into fixed-size frames
// encoded to the wire format and handed to a sink in capture order.
type Capture struct {
	source Source
	meter  *audio.LevelMeter

	mu      sync.Mutex
	started bool
}

func NewCapture(source Source, meter *audio.LevelMeter) *Capture {
	return &Capture{source: source, meter: meter}
}

// Start requests the capture device and begins the block callback sequence.
// Incoming blocks are metered immediately and accumulated into blockSize
// frames forwarded to sink; delivery order matches capture order. Open
// failures carry ErrPermissionDenied or ErrDeviceUnavailable.
func (c *Capture) Start(blockSize int, sink func(frame []byte)) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("capture already started")
	}
	c.started = true
	c.mu.Unlock()

	request := meterBlockSamples
	if request > blockSize {
		request = blockSize
	}
	// The source callback is serial, so the pending buffer needs no lock.
	pending := make([]float32, 0, blockSize)
	err := c.source.Open(request, func(block []float32) {
		if c.meter != nil {
			c.meter.Observe(block)
		}
		pending = append(pending, block...)
		for len(pending) >= blockSize {
			frame := make([]float32, blockSize)
			copy(frame, pending)
			pending = append(pending[:0], pending[blockSize:]...)
			sink(audio.EncodeFrame(frame))
		}
	})
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// Stop disconnects the microphone pipeline and releases the device lock.
// Idempotent; safe after the device has already failed.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	_ = c.source.Close()
	if c.meter != nil {
		c.meter.Reset()
	}
}
