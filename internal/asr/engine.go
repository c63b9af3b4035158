package asr

import (
	"fmt"
	"strings"
)

// Engine names accepted by Open.
const (
	EngineAuto      = "auto"
	EngineVosk      = "vosk"
	EngineDashScope = "dashscope"
)

// ResolveEngine maps "auto" (or empty) to vosk when this binary was built
// with the vosk tag and to dashscope otherwise.
func ResolveEngine(engine string) string {
	engine = strings.ToLower(strings.TrimSpace(engine))
	if isAuto(engine) {
		if voskAvailable {
			return EngineVosk
		}
		return EngineDashScope
	}
	return engine
}

// Open loads the models of the named engine. For vosk, models maps language
// codes to model directories; for dashscope, to DashScope model names.
func Open(engine string, models map[string]string, ds DashScopeConfig) (map[string]Model, string, error) {
	resolved := ResolveEngine(engine)
	switch resolved {
	case EngineVosk:
		loaded, err := LoadModels(models)
		return loaded, resolved, err
	case EngineDashScope:
		if isAuto(engine) {
			// auto 回退时 models 的值是 vosk 目录，只保留语言
			names := make(map[string]string, len(models))
			for code := range models {
				names[code] = ""
			}
			models = names
		}
		loaded, err := NewDashScopeModels(models, ds)
		return loaded, resolved, err
	default:
		return nil, resolved, fmt.Errorf("asr: unknown engine %q", engine)
	}
}

func isAuto(engine string) bool {
	engine = strings.ToLower(strings.TrimSpace(engine))
	return engine == "" || engine == EngineAuto
}
