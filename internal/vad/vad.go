// Package vad provides voice-activity oracles that classify fixed-size PCM
// frames as speech or non-speech.
package vad

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liuscraft/orion-stt/internal/audio"
)

var (
	// ErrUnsupportedFrame is returned for frames whose length does not match
	// the oracle's configured frame size.
	ErrUnsupportedFrame = errors.New("vad: unsupported frame length")
	// ErrEngineUnavailable is returned when the requested engine is not
	// compiled into this binary.
	ErrEngineUnavailable = errors.New("vad: engine not available in this build")
)

const (
	EngineEnergy = "energy"
	EngineWebRTC = "webrtc"
)

// Oracle classifies one frame of mono s16le PCM.
type Oracle interface {
	IsSpeech(frame []byte) (bool, error)
}

// Config selects and tunes an oracle.
type Config struct {
	Engine          string
	SampleRate      int
	FrameMs         int
	Aggressiveness  int
	EnergyThreshold float64
}

// DefaultEnergyThreshold is the RMS level treated as speech by EnergyOracle.
const DefaultEnergyThreshold = 0.015

// ValidFrame reports whether rate and frame duration are accepted by the
// classifiers: 8/16/32/48 kHz and 10/20/30 ms.
func ValidFrame(sampleRate, frameMs int) bool {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return false
	}
	switch frameMs {
	case 10, 20, 30:
		return true
	default:
		return false
	}
}

// New builds the oracle named by cfg.Engine. An empty engine selects energy.
func New(cfg Config) (Oracle, error) {
	if !ValidFrame(cfg.SampleRate, cfg.FrameMs) {
		return nil, fmt.Errorf("vad: invalid frame %dHz/%dms", cfg.SampleRate, cfg.FrameMs)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("vad: aggressiveness %d out of range 0-3", cfg.Aggressiveness)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", EngineEnergy:
		return NewEnergyOracle(cfg.SampleRate, cfg.FrameMs, cfg.EnergyThreshold), nil
	case EngineWebRTC:
		return NewWebRTCOracle(cfg.SampleRate, cfg.FrameMs, cfg.Aggressiveness)
	default:
		return nil, fmt.Errorf("vad: unknown engine %q", cfg.Engine)
	}
}

// EnergyOracle is a pure-Go detector: a frame is speech when its RMS level
// reaches the threshold. It keeps no state between frames; hysteresis lives
// in the gate.
type EnergyOracle struct {
	frameBytes int
	threshold  float64
}

func NewEnergyOracle(sampleRate, frameMs int, threshold float64) *EnergyOracle {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &EnergyOracle{
		frameBytes: audio.FrameBytes(sampleRate, 1, frameMs),
		threshold:  threshold,
	}
}

func (o *EnergyOracle) IsSpeech(frame []byte) (bool, error) {
	if len(frame) != o.frameBytes {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrUnsupportedFrame, len(frame), o.frameBytes)
	}
	return audio.RMS(frame) >= o.threshold, nil
}

var _ Oracle = (*EnergyOracle)(nil)
