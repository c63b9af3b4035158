package audio

import (
	"errors"
	"testing"
)

// scriptedDetector returns a fixed classification per call.
type scriptedDetector struct {
	script []bool
	errAt  map[int]error
	calls  int
}

func (d *scriptedDetector) IsSpeech(frame []byte) (bool, error) {
	i := d.calls
	d.calls++
	if err, ok := d.errAt[i]; ok {
		return false, err
	}
	if i >= len(d.script) {
		return false, nil
	}
	return d.script[i], nil
}

func speechScript(pattern ...bool) *scriptedDetector {
	return &scriptedDetector{script: pattern}
}

func silence(n int) []bool {
	return make([]bool, n)
}

func TestGateHysteresis(t *testing.T) {
	const frameBytes = 4
	const threshold = 3

	script := append([]bool{true, true}, silence(threshold+2)...)
	gate := NewVoiceActivityGate(speechScript(script...), frameBytes, threshold)
	frame := make([]byte, frameBytes)

	for i := 0; i < 2+threshold; i++ {
		if got := gate.Classify(frame); got != Forward {
			t.Fatalf("frame %d: got %s, want forward", i, got)
		}
		if !gate.State().Speaking {
			t.Fatalf("frame %d: expected speaking", i)
		}
	}

	if got := gate.Classify(frame); got != Drop {
		t.Fatalf("first frame past threshold: got %s, want drop", got)
	}
	state := gate.State()
	if state.Speaking {
		t.Fatal("expected speaking=false after threshold")
	}
	if state.SilenceRun != threshold+1 {
		t.Fatalf("silenceRun = %d, want %d", state.SilenceRun, threshold+1)
	}

	if got := gate.Classify(frame); got != Drop {
		t.Fatalf("idle silence: got %s, want drop", got)
	}
}

func TestGateSpeechResetsSilenceRun(t *testing.T) {
	gate := NewVoiceActivityGate(speechScript(true, false, false, true, false), 2, 2)
	frame := make([]byte, 2)
	for i := 0; i < 5; i++ {
		if got := gate.Classify(frame); got != Forward {
			t.Fatalf("frame %d: got %s, want forward", i, got)
		}
	}
	if st := gate.State(); st.SilenceRun != 1 || !st.Speaking {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestGateLeadingSilenceDropped(t *testing.T) {
	det := speechScript(false, false)
	gate := NewVoiceActivityGate(det, 2, 5)
	frame := make([]byte, 2)
	for i := 0; i < 2; i++ {
		if got := gate.Classify(frame); got != Drop {
			t.Fatalf("frame %d: got %s, want drop", i, got)
		}
	}
	if gate.State() != (GateState{}) {
		t.Fatalf("state changed on idle silence: %+v", gate.State())
	}
}

func TestGateRejectsWrongLength(t *testing.T) {
	det := speechScript(true)
	gate := NewVoiceActivityGate(det, 4, 1)
	if got := gate.Classify(make([]byte, 3)); got != Drop {
		t.Fatalf("got %s, want drop", got)
	}
	if det.calls != 0 {
		t.Fatal("detector must not see a short frame")
	}
}

func TestGateDetectorErrorLeavesState(t *testing.T) {
	det := &scriptedDetector{
		script: []bool{true, true, false},
		errAt:  map[int]error{1: errors.New("vad failed")},
	}
	gate := NewVoiceActivityGate(det, 2, 0)
	frame := make([]byte, 2)

	gate.Classify(frame)
	before := gate.State()
	if got := gate.Classify(frame); got != Drop {
		t.Fatalf("got %s, want drop on detector error", got)
	}
	if gate.State() != before {
		t.Fatalf("state changed on detector error: %+v -> %+v", before, gate.State())
	}
}

func TestSilenceThresholdFrames(t *testing.T) {
	if got := SilenceThresholdFrames(500, 30); got != 16 {
		t.Fatalf("got %d, want 16", got)
	}
	if got := SilenceThresholdFrames(500, 0); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}
