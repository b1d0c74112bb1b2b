package audio

import (
	"math"
	"sync"
)

// LevelMeter tracks a coarse energy level of the capture stream for UI
// feedback. It is fed from the capture callback and read from the visual
// loop; the two never block each other.
type LevelMeter struct {
	mu        sync.Mutex
	level     float64
	smoothing float64
}

// NewLevelMeter creates a meter. smoothing in [0,1) controls how much of
// the previous reading survives each update; 0 means no smoothing.
func NewLevelMeter(smoothing float64) *LevelMeter {
	if smoothing < 0 || smoothing >= 1 {
		smoothing = 0
	}
	return &LevelMeter{smoothing: smoothing}
}

// Observe updates the meter from one block of normalized samples.
func (m *LevelMeter) Observe(samples []float32) {
	if len(samples) == 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	m.mu.Lock()
	m.level = m.smoothing*m.level + (1-m.smoothing)*rms
	m.mu.Unlock()
}

// ObservePCM updates the meter from raw 16-bit little-endian PCM.
func (m *LevelMeter) ObservePCM(chunk []byte) {
	if len(chunk) < 2 {
		return
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(chunk); i += 2 {
		v := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(v) / 32768.0
		sum += f * f
		n++
	}
	rms := math.Sqrt(sum / float64(n))

	m.mu.Lock()
	m.level = m.smoothing*m.level + (1-m.smoothing)*rms
	m.mu.Unlock()
}

// Level returns the most recent smoothed reading in [0,1].
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Reset clears the meter.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	m.level = 0
	m.mu.Unlock()
}
