package asr

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liuscraft/orion-stt/internal/logging"
)

// Registry maps language codes to loaded models. The map is fixed at
// construction and read concurrently by every connection.
type Registry struct {
	models     map[string]Model
	sampleRate float64
	closeOnce  sync.Once
}

type RegistryOption func(*Registry)

// WithSampleRate sets the rate recognizers are created for.
func WithSampleRate(rate int) RegistryOption {
	return func(r *Registry) {
		if rate > 0 {
			r.sampleRate = float64(rate)
		}
	}
}

func NewRegistry(models map[string]Model, opts ...RegistryOption) *Registry {
	copied := make(map[string]Model, len(models))
	for code, m := range models {
		if m != nil {
			copied[code] = m
		}
	}
	r := &Registry{models: copied, sampleRate: DefaultSampleRate}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) HasLanguage(code string) bool {
	_, ok := r.models[code]
	return ok
}

// Languages returns the loaded codes in sorted order.
func (r *Registry) Languages() []string {
	codes := make([]string, 0, len(r.models))
	for code := range r.models {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (r *Registry) Len() int {
	return len(r.models)
}

// AcquireRecognizer constructs a fresh recognizer for code. The caller owns
// it and must Close it.
func (r *Registry) AcquireRecognizer(code string) (Recognizer, error) {
	m, ok := r.models[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	rec, err := m.NewRecognizer(r.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("create recognizer for %q: %w", code, err)
	}
	return rec, nil
}

// Close releases every model. Recognizers still in use must be closed first.
func (r *Registry) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		for _, code := range r.Languages() {
			if err := r.models[code].Close(); err != nil {
				errs = append(errs, fmt.Errorf("close model %q: %w", code, err))
			}
		}
		logging.Infof("ASR registry: released %d models", len(r.models))
	})
	return errors.Join(errs...)
}
