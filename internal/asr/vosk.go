//go:build vosk

package asr

import (
	"errors"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/liuscraft/orion-stt/internal/logging"
)

const voskAvailable = true

func init() {
	vosk.SetLogLevel(-1)
}

// LoadModels loads one Vosk model per language directory.
func LoadModels(dirs map[string]string) (map[string]Model, error) {
	models := make(map[string]Model, len(dirs))
	var errs []error
	for code, dir := range dirs {
		m, err := vosk.NewModel(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("load model %q from %s: %w", code, dir, err))
			continue
		}
		logging.Infof("ASR: loaded %s model from %s", code, dir)
		models[code] = &voskModel{model: m}
	}
	if len(models) == 0 {
		errs = append(errs, ErrNoModels)
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		logging.Warnf("ASR: %v", err)
	}
	return models, nil
}

type voskModel struct {
	model *vosk.VoskModel
	once  sync.Once
}

func (m *voskModel) NewRecognizer(sampleRate float64) (Recognizer, error) {
	rec, err := vosk.NewRecognizer(m.model, sampleRate)
	if err != nil {
		return nil, err
	}
	rec.SetWords(1)
	return &voskRecognizer{rec: rec}, nil
}

func (m *voskModel) Close() error {
	m.once.Do(m.model.Free)
	return nil
}

type voskRecognizer struct {
	rec  *vosk.VoskRecognizer
	once sync.Once
}

func (r *voskRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	switch r.rec.AcceptWaveform(pcm) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, errors.New("vosk: accept waveform failed")
	}
}

func (r *voskRecognizer) PartialResult() (string, error) {
	return PartialText(r.rec.PartialResult())
}

func (r *voskRecognizer) Result() (string, error) {
	return ResultText(r.rec.Result())
}

func (r *voskRecognizer) FinalResult() (string, error) {
	return ResultText(r.rec.FinalResult())
}

func (r *voskRecognizer) Close() error {
	r.once.Do(r.rec.Free)
	return nil
}
