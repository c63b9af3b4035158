//go:build !vosk

package asr

import "fmt"

// LoadModels requires the vosk build tag.
func LoadModels(dirs map[string]string) (map[string]Model, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags vosk", ErrEngineUnavailable)
}

const voskAvailable = false
