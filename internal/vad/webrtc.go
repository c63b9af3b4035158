//go:build webrtcvad

package vad

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/liuscraft/orion-stt/internal/audio"
)

// WebRTCOracle wraps the WebRTC voice activity detector.
type WebRTCOracle struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	frameBytes int
}

func NewWebRTCOracle(sampleRate, frameMs, aggressiveness int) (Oracle, error) {
	samples := sampleRate * frameMs / 1000
	if !webrtcvad.ValidRateAndFrameLength(sampleRate, samples) {
		return nil, fmt.Errorf("vad: webrtc rejects %dHz/%dms", sampleRate, frameMs)
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("vad: create webrtc detector: %w", err)
	}
	if err := v.SetMode(aggressiveness); err != nil {
		return nil, fmt.Errorf("vad: set webrtc mode %d: %w", aggressiveness, err)
	}
	return &WebRTCOracle{
		vad:        v,
		sampleRate: sampleRate,
		frameBytes: audio.FrameBytes(sampleRate, 1, frameMs),
	}, nil
}

func (o *WebRTCOracle) IsSpeech(frame []byte) (bool, error) {
	if len(frame) != o.frameBytes {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrUnsupportedFrame, len(frame), o.frameBytes)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vad.Process(o.sampleRate, frame)
}
