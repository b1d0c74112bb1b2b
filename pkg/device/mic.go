package device

import (
	"sync"

	"github.com/gen2brain/malgo"
)

// Mic is a mono 16-bit capture device delivering fixed-size blocks of
// normalized samples. It implements voice.Source.
type Mic struct {
	engine     *Engine
	sampleRate int

	mu  sync.Mutex
	dev *malgo.Device
}

func NewMic(engine *Engine, sampleRate int) *Mic {
	return &Mic{engine: engine, sampleRate: sampleRate}
}

// Open requests the capture device and starts the block callback sequence.
// malgo delivers device-sized periods; they are re-framed into blockSize
// sample blocks so downstream framing is stable across backends.
func (m *Mic) Open(blockSize int, onBlock func([]float32)) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.Alsa.NoMMap = 1

	block := make([]float32, 0, blockSize)
	onRecv := func(pOutput, pInput []byte, frameCount uint32) {
		// Capture callback runs serially, so re-framing needs no lock.
		for i := 0; i+1 < len(pInput); i += 2 {
			v := int16(pInput[i]) | (int16(pInput[i+1]) << 8)
			block = append(block, float32(v)/32768.0)
			if len(block) == blockSize {
				out := make([]float32, blockSize)
				copy(out, block)
				block = block[:0]
				onBlock(out)
			}
		}
	}

	dev, err := malgo.InitDevice(m.engine.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		return mapDeviceErr(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return mapDeviceErr(err)
	}

	m.mu.Lock()
	m.dev = dev
	m.mu.Unlock()
	return nil
}

// Close releases the device lock. Idempotent.
func (m *Mic) Close() error {
	m.mu.Lock()
	dev := m.dev
	m.dev = nil
	m.mu.Unlock()
	if dev != nil {
		dev.Uninit()
	}
	return nil
}
