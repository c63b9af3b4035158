// Package mock provides deterministic test doubles for the asr package.
//
// Recognizer treats every audio chunk as UTF-8 text: each whitespace separated
// word is appended to the current utterance, and the word BoundaryToken ends
// it. This lets tests drive partial and final results with readable payloads:
//
//	model := mock.NewModel()
//	rec, _ := model.NewRecognizer(16000)
//	rec.AcceptWaveform([]byte("hello world"))  // partial "hello world"
//	rec.AcceptWaveform([]byte("<eos>"))        // boundary, result "hello world"
package mock

import (
	"errors"
	"strings"
	"sync"

	"github.com/liuscraft/orion-stt/internal/asr"
)

// BoundaryToken marks an utterance boundary inside a chunk.
const BoundaryToken = "<eos>"

// FailToken makes AcceptWaveform return an error.
const FailToken = "<fail>"

// PanicToken makes AcceptWaveform panic.
const PanicToken = "<panic>"

var ErrScripted = errors.New("mock: scripted recognizer failure")

// Model is a mock asr.Model recording every recognizer it creates.
type Model struct {
	mu sync.Mutex

	// NewRecognizerErr, if non-nil, is returned by NewRecognizer.
	NewRecognizerErr error

	recognizers []*Recognizer
	closed      bool
	sampleRates []float64
}

func NewModel() *Model {
	return &Model{}
}

func (m *Model) NewRecognizer(sampleRate float64) (asr.Recognizer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleRates = append(m.sampleRates, sampleRate)
	if m.NewRecognizerErr != nil {
		return nil, m.NewRecognizerErr
	}
	rec := &Recognizer{}
	m.recognizers = append(m.recognizers, rec)
	return rec, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Allocations returns how many recognizers were created.
func (m *Model) Allocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recognizers)
}

// Recognizers returns the recognizers created so far, in order.
func (m *Model) Recognizers() []*Recognizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Recognizer, len(m.recognizers))
	copy(out, m.recognizers)
	return out
}

func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Recognizer is a token-echo asr.Recognizer.
type Recognizer struct {
	mu       sync.Mutex
	pending  []string
	ended    string
	accepted int
	finals   int
	closed   bool
}

func (r *Recognizer) AcceptWaveform(pcm []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted += len(pcm)

	boundary := false
	for _, word := range strings.Fields(string(pcm)) {
		switch word {
		case FailToken:
			return false, ErrScripted
		case PanicToken:
			panic("mock: scripted recognizer panic")
		case BoundaryToken:
			r.ended = strings.Join(r.pending, " ")
			r.pending = nil
			boundary = true
		default:
			r.pending = append(r.pending, word)
		}
	}
	return boundary, nil
}

func (r *Recognizer) PartialResult() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.pending, " "), nil
}

func (r *Recognizer) Result() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := r.ended
	r.ended = ""
	return text, nil
}

func (r *Recognizer) FinalResult() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals++
	text := strings.Join(r.pending, " ")
	r.pending = nil
	return text, nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// BytesAccepted returns the total payload fed to the recognizer.
func (r *Recognizer) BytesAccepted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

// FinalCalls returns how many times FinalResult was called.
func (r *Recognizer) FinalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finals
}

func (r *Recognizer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var (
	_ asr.Model      = (*Model)(nil)
	_ asr.Recognizer = (*Recognizer)(nil)
)
