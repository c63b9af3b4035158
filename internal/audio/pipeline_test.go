package audio

import (
	"context"
	"testing"
)

func newTestPipeline(det SpeechDetector, frameBytes, threshold, capacity int, toggle *ToggleFlag) *Pipeline {
	return NewPipeline(
		NewFrameSegmenter(frameBytes),
		NewVoiceActivityGate(det, frameBytes, threshold),
		toggle,
		NewTransmissionQueue(capacity),
	)
}

func TestPipelineForwardsSpeechWithTail(t *testing.T) {
	det := speechScript(false, true, true, false, false, false)
	p := newTestPipeline(det, 4, 1, 10, NewToggleFlag("mic", true))

	// One block of six frames.
	n := p.Process(make([]byte, 24))
	if n != 3 {
		t.Fatalf("enqueued %d frames, want 3", n)
	}
	stats := p.Stats()
	if stats.Frames != 6 || stats.Forwarded != 3 || stats.Gated != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPipelineToggleGating(t *testing.T) {
	// speech ×4, then silence past the threshold.
	det := speechScript(true, true, true, true, false, false, false)
	toggle := NewToggleFlag("mic", false)
	p := newTestPipeline(det, 2, 1, 10, toggle)

	p.Process(make([]byte, 4))
	if p.Queue().Len() != 0 {
		t.Fatalf("muted pipeline enqueued %d frames", p.Queue().Len())
	}
	if !p.Gate().State().Speaking {
		t.Fatal("gate state must track speech while muted")
	}

	toggle.Set(true)
	p.Process(make([]byte, 4))
	if p.Queue().Len() != 2 {
		t.Fatalf("queue len = %d after unmute, want 2", p.Queue().Len())
	}
	if st := p.Gate().State(); !st.Speaking || st.SilenceRun != 0 {
		t.Fatalf("unexpected gate state %+v", st)
	}

	p.Process(make([]byte, 6))
	stats := p.Stats()
	if stats.Muted != 2 {
		t.Fatalf("muted = %d, want 2", stats.Muted)
	}
	if stats.Forwarded != 3 {
		t.Fatalf("forwarded = %d, want 3 (2 speech + 1 tail)", stats.Forwarded)
	}
}

func TestPipelineCountsQueueDrops(t *testing.T) {
	det := speechScript(true, true, true, true)
	p := newTestPipeline(det, 2, 0, 2, NewToggleFlag("mic", true))

	p.Process(make([]byte, 8))
	stats := p.Stats()
	if stats.Forwarded != 2 || stats.Dropped != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	p.Queue().Stop()
	for {
		item, err := p.Queue().Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if item.Stop {
			break
		}
	}
}

func TestToggleFlag(t *testing.T) {
	f := NewToggleFlag("mic", true)
	if !f.Enabled() {
		t.Fatal("expected enabled")
	}
	if f.Toggle() {
		t.Fatal("toggle should disable")
	}
	if f.Enabled() {
		t.Fatal("expected disabled")
	}
	if !f.Toggle() {
		t.Fatal("toggle should enable")
	}
	if f.Name() != "mic" {
		t.Fatalf("name = %q", f.Name())
	}
}
