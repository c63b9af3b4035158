package audio

import (
	"sync/atomic"
)

// PipelineStats counts what happened to segmented frames.
type PipelineStats struct {
	Frames    int64
	Forwarded int64
	Gated     int64
	Muted     int64
	Dropped   int64
}

// Pipeline is the capture-side path segmenter → gate → toggle → queue. Process
// is called from the capture goroutine only; Stats may be read from anywhere.
type Pipeline struct {
	segmenter *FrameSegmenter
	gate      *VoiceActivityGate
	toggle    *ToggleFlag
	queue     *TransmissionQueue

	frames    atomic.Int64
	forwarded atomic.Int64
	gated     atomic.Int64
	muted     atomic.Int64
	dropped   atomic.Int64
}

func NewPipeline(segmenter *FrameSegmenter, gate *VoiceActivityGate, toggle *ToggleFlag, queue *TransmissionQueue) *Pipeline {
	return &Pipeline{
		segmenter: segmenter,
		gate:      gate,
		toggle:    toggle,
		queue:     queue,
	}
}

// Process runs one captured block through the pipeline and returns how many
// frames were enqueued. The gate sees every frame even while muted so its
// state stays in step with the audio.
func (p *Pipeline) Process(block []byte) int {
	enqueued := 0
	for _, frame := range p.segmenter.Push(block) {
		p.frames.Add(1)
		if p.gate.Classify(frame) != Forward {
			p.gated.Add(1)
			continue
		}
		if p.toggle != nil && !p.toggle.Enabled() {
			p.muted.Add(1)
			continue
		}
		if !p.queue.Enqueue(frame) {
			p.dropped.Add(1)
			continue
		}
		p.forwarded.Add(1)
		enqueued++
	}
	return enqueued
}

func (p *Pipeline) Queue() *TransmissionQueue {
	return p.queue
}

func (p *Pipeline) Gate() *VoiceActivityGate {
	return p.gate
}

func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Frames:    p.frames.Load(),
		Forwarded: p.forwarded.Load(),
		Gated:     p.gated.Load(),
		Muted:     p.muted.Load(),
		Dropped:   p.dropped.Load(),
	}
}
