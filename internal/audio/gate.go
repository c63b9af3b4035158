package audio

import (
	"github.com/liuscraft/orion-stt/internal/logging"
)

// SpeechDetector classifies one frame as speech or not. vad.Oracle satisfies it.
type SpeechDetector interface {
	IsSpeech(frame []byte) (bool, error)
}

// Decision is the outcome of classifying one frame.
type Decision int

const (
	Drop Decision = iota
	Forward
)

func (d Decision) String() string {
	switch d {
	case Forward:
		return "forward"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// GateState is the hysteresis state of a VoiceActivityGate.
type GateState struct {
	Speaking   bool
	SilenceRun int
}

// VoiceActivityGate applies hysteresis on top of a SpeechDetector. After
// speech ends it keeps forwarding up to silenceThreshold non-speech frames so
// the recognizer sees a natural tail of silence.
//
// A gate is not safe for concurrent use; it belongs to the capture goroutine.
type VoiceActivityGate struct {
	detector         SpeechDetector
	frameBytes       int
	silenceThreshold int
	state            GateState
}

// NewVoiceActivityGate builds a gate. silenceThreshold is the number of
// consecutive non-speech frames tolerated before speech is considered over.
func NewVoiceActivityGate(detector SpeechDetector, frameBytes, silenceThreshold int) *VoiceActivityGate {
	if silenceThreshold < 0 {
		silenceThreshold = 0
	}
	return &VoiceActivityGate{
		detector:         detector,
		frameBytes:       frameBytes,
		silenceThreshold: silenceThreshold,
	}
}

// SilenceThresholdFrames derives the gate threshold from a silence duration.
func SilenceThresholdFrames(silenceMs, frameMs int) int {
	if frameMs <= 0 || silenceMs <= 0 {
		return 0
	}
	return silenceMs / frameMs
}

// Classify decides whether frame should be forwarded. Frames of the wrong
// length and frames the detector fails on are dropped without touching state.
func (g *VoiceActivityGate) Classify(frame []byte) Decision {
	if len(frame) != g.frameBytes {
		return Drop
	}

	speech, err := g.detector.IsSpeech(frame)
	if err != nil {
		logging.Warnf("VoiceActivityGate: detector failed, dropping frame: %v", err)
		return Drop
	}

	if speech {
		if !g.state.Speaking {
			logging.Debugf("VoiceActivityGate: speech started")
		}
		g.state.SilenceRun = 0
		g.state.Speaking = true
		return Forward
	}

	if !g.state.Speaking {
		return Drop
	}

	g.state.SilenceRun++
	if g.state.SilenceRun > g.silenceThreshold {
		g.state.Speaking = false
		logging.Debugf("VoiceActivityGate: speech ended after %d silent frames", g.state.SilenceRun)
		return Drop
	}
	return Forward
}

// State returns a snapshot of the hysteresis state.
func (g *VoiceActivityGate) State() GateState {
	return g.state
}

func (g *VoiceActivityGate) Reset() {
	g.state = GateState{}
}
