package device

import (
	"testing"

	"github.com/xino-ai/xino-voice/pkg/voice"
)

// renderPeriod drives the speaker's mixer directly, standing in for the
// playback callback the audio backend would invoke.
func renderPeriod(s *Speaker, frames int) []byte {
	out := make([]byte, frames*2)
	s.render(out, nil, uint32(frames))
	return out
}

func TestSpeakerClockAdvances(t *testing.T) {
	s := NewSpeaker(nil, 24000)
	if s.Now() != 0 {
		t.Fatalf("fresh line clock should read 0, got %f", s.Now())
	}
	renderPeriod(s, 24000)
	if s.Now() != 1.0 {
		t.Errorf("expected 1.0s after 24000 frames, got %f", s.Now())
	}
}

func TestSpeakerPlaysChunksBackToBack(t *testing.T) {
	s := NewSpeaker(nil, 24000)
	sch := voice.NewScheduler(s, 24000, 1)

	finishes := make([]int, 2)
	// 10 frames of 0x0101 followed by 20 frames of 0x0202.
	first := make([]byte, 20)
	for i := range first {
		first[i] = 0x01
	}
	second := make([]byte, 40)
	for i := range second {
		second[i] = 0x02
	}
	sch.Schedule(first, func() { finishes[0]++ })
	sch.Schedule(second, func() { finishes[1]++ })

	out := renderPeriod(s, 25)
	// First chunk occupies frames 0-9, second begins immediately at 10.
	if out[0] != 0x01 || out[19] != 0x01 {
		t.Error("first chunk not rendered at period start")
	}
	if out[20] != 0x02 || out[49] != 0x02 {
		t.Error("second chunk not contiguous with first")
	}
	if finishes[0] != 1 {
		t.Errorf("first chunk should have finished, count %d", finishes[0])
	}
	if finishes[1] != 0 {
		t.Errorf("second chunk still has frames left, count %d", finishes[1])
	}

	out = renderPeriod(s, 25)
	if out[0] != 0x02 || out[9] != 0x02 {
		t.Error("second chunk tail not rendered in next period")
	}
	if out[10] != 0 {
		t.Error("expected silence after queue drained")
	}
	if finishes[1] != 1 {
		t.Errorf("second chunk should have finished, count %d", finishes[1])
	}
}

func TestSpeakerHonoursStartTime(t *testing.T) {
	s := NewSpeaker(nil, 24000)
	// Advance the clock to 10 frames, then schedule: the scheduler snaps
	// the start to the clock.
	renderPeriod(s, 10)
	sch := voice.NewScheduler(s, 24000, 1)

	pcm := []byte{0x7F, 0x7F, 0x7F, 0x7F}
	sch.Schedule(pcm, nil)

	out := renderPeriod(s, 4)
	if out[0] != 0x7F {
		t.Error("chunk scheduled at the current clock should play immediately")
	}
}

func TestSpeakerDropsCancelledChunks(t *testing.T) {
	s := NewSpeaker(nil, 24000)
	sch := voice.NewScheduler(s, 24000, 1)

	fired := false
	sch.Schedule(make([]byte, 40), func() { fired = true })
	sch.StopAll()

	out := renderPeriod(s, 20)
	for i, b := range out {
		if b != 0 {
			t.Fatalf("expected silence after StopAll, byte %d = %#x", i, b)
		}
	}
	if fired {
		t.Error("cancelled chunk fired its finished callback")
	}
}
