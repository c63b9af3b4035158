//go:build !webrtcvad

package vad

import "fmt"

// NewWebRTCOracle is unavailable without the webrtcvad build tag.
func NewWebRTCOracle(sampleRate, frameMs, aggressiveness int) (Oracle, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags webrtcvad", ErrEngineUnavailable)
}
