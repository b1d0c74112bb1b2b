package device

import (
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/xino-ai/xino-voice/pkg/voice"
)

type playItem struct {
	chunk  *voice.ScheduledChunk
	offset int // bytes of PCM already written to the line
}

// Speaker is a mono 16-bit playback line with a sample-counter clock. It
// implements voice.OutputLine: queued chunks begin at their scheduled start
// time, play back to back and fire Finish on their last sample; cancelled
// chunks are discarded mid-stream without finishing.
type Speaker struct {
	engine     *Engine
	sampleRate int

	mu            sync.Mutex
	dev           *malgo.Device
	queue         []*playItem
	samplesPlayed uint64
}

func NewSpeaker(engine *Engine, sampleRate int) *Speaker {
	return &Speaker{engine: engine, sampleRate: sampleRate}
}

// Start opens the playback device and starts the output clock.
func (s *Speaker) Start() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(s.engine.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.render,
	})
	if err != nil {
		return mapDeviceErr(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return mapDeviceErr(err)
	}

	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()
	return nil
}

// Now returns the line clock in seconds: samples played since Start.
func (s *Speaker) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.samplesPlayed) / float64(s.sampleRate)
}

// Play enqueues a scheduled chunk. Chunks are queued in schedule order,
// which is also start-time order thanks to the scheduler's cursor.
func (s *Speaker) Play(c *voice.ScheduledChunk) {
	s.mu.Lock()
	s.queue = append(s.queue, &playItem{chunk: c})
	s.mu.Unlock()
}

// render fills one output period from the queue, advancing the clock.
func (s *Speaker) render(pOutput, pInput []byte, frameCount uint32) {
	for i := range pOutput {
		pOutput[i] = 0
	}
	frames := len(pOutput) / 2

	var finished []*voice.ScheduledChunk

	s.mu.Lock()
	// Discard cancelled chunks wherever they sit, including mid-play.
	keep := s.queue[:0]
	for _, it := range s.queue {
		if !it.chunk.Cancelled() {
			keep = append(keep, it)
		}
	}
	s.queue = keep

	idx := 0
	for idx < frames && len(s.queue) > 0 {
		it := s.queue[0]
		// Round, not truncate: cursor arithmetic accumulates float error
		// and truncation would open one-sample gaps.
		startSample := int64(math.Round(it.chunk.StartAt * float64(s.sampleRate)))
		cur := int64(s.samplesPlayed) + int64(idx)
		if startSample > cur {
			gap := startSample - cur
			if gap >= int64(frames-idx) {
				break // silence until the next period
			}
			idx += int(gap)
		}

		rem := len(it.chunk.PCM) - it.offset
		room := (frames - idx) * 2
		n := rem
		if n > room {
			n = room
		}
		copy(pOutput[idx*2:idx*2+n], it.chunk.PCM[it.offset:it.offset+n])
		it.offset += n
		idx += n / 2

		if it.offset >= len(it.chunk.PCM) {
			finished = append(finished, it.chunk)
			s.queue = s.queue[1:]
		}
	}
	s.samplesPlayed += uint64(frames)
	s.mu.Unlock()

	for _, c := range finished {
		c.Finish()
	}
}

// Close stops playback and releases the device. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	s.queue = nil
	s.mu.Unlock()
	if dev != nil {
		dev.Uninit()
	}
	return nil
}
