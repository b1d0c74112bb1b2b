package voice

import (
	"sync"

	"github.com/xino-ai/xino-voice/pkg/audio"
)

// ScheduledChunk is one unit of output audio queued for playback.
type ScheduledChunk struct {
	PCM      []byte
	StartAt  float64
	Duration float64

	mu       sync.Mutex
	done     bool
	finished func()
}

// Finish marks natural end-of-playback. The output line calls it when the
// last sample of the chunk has been played; the completion callback fires
// exactly once and never after a cancel.
func (c *ScheduledChunk) Finish() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	fn := c.finished
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Cancel force-stops the chunk. The output line discards cancelled chunks
// without invoking the completion callback.
func (c *ScheduledChunk) Cancel() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
}

// Cancelled reports whether the chunk was finished or force-stopped.
func (c *ScheduledChunk) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Scheduler owns the monotonic next-start cursor and the set of in-flight
// chunks, guaranteeing gapless back-to-back playback as long as arrivals
// keep pace with the output clock.
type Scheduler struct {
	line       OutputLine
	sampleRate int
	channels   int

	mu     sync.Mutex
	cursor float64
	active map[*ScheduledChunk]struct{}
}

func NewScheduler(line OutputLine, sampleRate, channels int) *Scheduler {
	return &Scheduler{
		line:       line,
		sampleRate: sampleRate,
		channels:   channels,
		active:     make(map[*ScheduledChunk]struct{}),
	}
}

// Schedule queues one decoded chunk to start at max(cursor, line clock) and
// advances the cursor by the chunk duration. onFinished fires exactly once
// when the chunk plays to the end; it is not invoked if the chunk is
// force-stopped.
func (s *Scheduler) Schedule(pcm []byte, onFinished func()) *ScheduledChunk {
	s.mu.Lock()
	startAt := s.line.Now()
	if s.cursor > startAt {
		startAt = s.cursor
	}
	c := &ScheduledChunk{
		PCM:      pcm,
		StartAt:  startAt,
		Duration: audio.Duration(len(pcm), s.sampleRate, s.channels),
	}
	c.finished = func() {
		s.mu.Lock()
		delete(s.active, c)
		s.mu.Unlock()
		if onFinished != nil {
			onFinished()
		}
	}
	s.cursor = startAt + c.Duration
	s.active[c] = struct{}{}
	s.mu.Unlock()

	s.line.Play(c)
	return c
}

// StopAll immediately halts every in-flight chunk and resets the cursor to
// zero. Idempotent; used on interruption and session teardown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	chunks := make([]*ScheduledChunk, 0, len(s.active))
	for c := range s.active {
		chunks = append(chunks, c)
	}
	s.active = make(map[*ScheduledChunk]struct{})
	s.cursor = 0
	s.mu.Unlock()

	for _, c := range chunks {
		c.Cancel()
	}
}

// Active returns the number of chunks scheduled but not yet finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the earliest time the next chunk may start.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
