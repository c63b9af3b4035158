package asr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownLanguage   = errors.New("asr: unknown language")
	ErrEngineUnavailable = errors.New("asr: recognition engine not available in this build")
	ErrNoModels          = errors.New("asr: no models loaded")
)

// DefaultSampleRate is the stream rate recognizers are created for.
const DefaultSampleRate = 16000

// Recognizer is one connection's decode state. It is not safe for concurrent
// use and must not be shared between connections.
type Recognizer interface {
	// AcceptWaveform feeds s16le PCM and reports whether the engine detected
	// an utterance boundary.
	AcceptWaveform(pcm []byte) (bool, error)
	// PartialResult returns the provisional text of the current utterance.
	PartialResult() (string, error)
	// Result returns the text of the utterance that just ended.
	Result() (string, error)
	// FinalResult flushes whatever the engine holds.
	FinalResult() (string, error)
	Close() error
}

// Model is a loaded language model. It is read-only and shared; every
// NewRecognizer call returns an independent Recognizer.
type Model interface {
	NewRecognizer(sampleRate float64) (Recognizer, error)
	Close() error
}

// engine output shapes: {"partial": "..."} and {"text": "...", "result": [...]}
type partialJSON struct {
	Partial string `json:"partial"`
}

type resultJSON struct {
	Text string `json:"text"`
}

// PartialText extracts the trimmed "partial" field of an engine output.
func PartialText(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var p partialJSON
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", fmt.Errorf("decode partial result: %w", err)
	}
	return strings.TrimSpace(p.Partial), nil
}

// ResultText extracts the trimmed "text" field of an engine output.
func ResultText(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var r resultJSON
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return "", fmt.Errorf("decode result: %w", err)
	}
	return strings.TrimSpace(r.Text), nil
}
