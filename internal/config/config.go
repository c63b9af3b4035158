package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/stt.yaml"

// Recognition engines. auto picks vosk when the binary was built with the
// vosk tag, dashscope otherwise.
const (
	EngineAuto      = "auto"
	EngineVosk      = "vosk"
	EngineDashScope = "dashscope"
)

const (
	SourceMicrophone = "microphone"
	SourceLoopback   = "loopback"
	SourceFile       = "file"
)

type AppConfig struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Client  ClientConfig  `json:"client" yaml:"client"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type ServerConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
	Engine     string `json:"engine" yaml:"engine"`
	// Models maps a language code to its model directory (vosk) or model
	// name (dashscope, empty selects dashscope.model).
	Models            map[string]string `json:"models" yaml:"models"`
	DashScope         DashScopeConfig   `json:"dashscope" yaml:"dashscope"`
	ReceiveTimeoutMs  int               `json:"receive_timeout_ms" yaml:"receive_timeout_ms"`
	PingIntervalMs    int               `json:"ping_interval_ms" yaml:"ping_interval_ms"`
	PingTimeoutMs     int               `json:"ping_timeout_ms" yaml:"ping_timeout_ms"`
	MaxMessageBytes   int64             `json:"max_message_bytes" yaml:"max_message_bytes"`
	ShutdownTimeoutMs int               `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
	AllowedOrigins    []string          `json:"allowed_origins" yaml:"allowed_origins"`
}

type DashScopeConfig struct {
	APIKey               string `json:"api_key" yaml:"api_key"`
	Endpoint             string `json:"endpoint" yaml:"endpoint"`
	Model                string `json:"model" yaml:"model"`
	VocabularyID         string `json:"vocabulary_id" yaml:"vocabulary_id"`
	SemanticPunctuation  *bool  `json:"semantic_punctuation" yaml:"semantic_punctuation"`
	MaxSentenceSilenceMs int    `json:"max_sentence_silence_ms" yaml:"max_sentence_silence_ms"`
}

type ClientConfig struct {
	ServerURL     string       `json:"server_url" yaml:"server_url"`
	Language      string       `json:"language" yaml:"language"`
	SampleRate    int          `json:"sample_rate" yaml:"sample_rate"`
	BlockMs       int          `json:"block_ms" yaml:"block_ms"`
	FrameMs       int          `json:"frame_ms" yaml:"frame_ms"`
	SilenceMs     int          `json:"silence_ms" yaml:"silence_ms"`
	QueueCapacity int          `json:"queue_capacity" yaml:"queue_capacity"`
	FinalWaitMs   int          `json:"final_wait_ms" yaml:"final_wait_ms"`
	Source        SourceConfig `json:"source" yaml:"source"`
	VAD           VADConfig    `json:"vad" yaml:"vad"`
}

type SourceConfig struct {
	Kind        string `json:"kind" yaml:"kind"`
	Device      string `json:"device" yaml:"device"`
	HighLatency bool   `json:"high_latency" yaml:"high_latency"`
	File        string `json:"file" yaml:"file"`
	// Realtime paces file playback at the recording's speed.
	Realtime bool `json:"realtime" yaml:"realtime"`
}

type VADConfig struct {
	Engine          string  `json:"engine" yaml:"engine"`
	Aggressiveness  int     `json:"aggressiveness" yaml:"aggressiveness"`
	EnergyThreshold float64 `json:"energy_threshold" yaml:"energy_threshold"`
}

type JournalConfig struct {
	Enable    bool      `json:"enable" yaml:"enable"`
	Path      string    `json:"path" yaml:"path"`
	QueueSize int       `json:"queue_size" yaml:"queue_size"`
	Correct   bool      `json:"correct" yaml:"correct"`
	LLM       LLMConfig `json:"llm" yaml:"llm"`
}

type LLMConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
}

type MetricsConfig struct {
	Enable      bool   `json:"enable" yaml:"enable"`
	ServiceName string `json:"service_name" yaml:"service_name"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			SampleRate:        16000,
			Engine:            EngineAuto,
			Models:            map[string]string{},
			DashScope: DashScopeConfig{
				Endpoint: "wss://dashscope.aliyuncs.com/api-ws/v1/inference",
				Model:    "fun-asr-realtime",
			},
			ReceiveTimeoutMs:  350,
			PingIntervalMs:    25000,
			PingTimeoutMs:     20000,
			MaxMessageBytes:   1 << 20,
			ShutdownTimeoutMs: 5000,
		},
		Client: ClientConfig{
			ServerURL:     "ws://localhost:8000",
			Language:      "vi",
			SampleRate:    16000,
			BlockMs:       120,
			FrameMs:       30,
			SilenceMs:     500,
			QueueCapacity: 50,
			FinalWaitMs:   1000,
			Source: SourceConfig{
				Kind: SourceMicrophone,
			},
			VAD: VADConfig{
				Engine:         "energy",
				Aggressiveness: 3,
			},
		},
		Journal: JournalConfig{
			Path:      "data/transcripts.jsonl",
			QueueSize: 256,
			LLM: LLMConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
		},
		Metrics: MetricsConfig{
			Enable:      true,
			ServiceName: "orion-stt",
		},
	}
}

// Load reads defaults, then the file at path (JSON or YAML by extension),
// then environment overrides. A missing file is not an error. Load does not
// validate: callers apply their flag overrides first, then call
// ValidateServer or ValidateClient for the section they run.
func Load(path string) (*AppConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

func decode(path string, data []byte, cfg *AppConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".json", "":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func (c *AppConfig) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}

	if host := strings.TrimSpace(os.Getenv("HOST")); host != "" {
		c.Server.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		} else {
			c.Server.Port = -1
		}
	}
	if models := strings.TrimSpace(os.Getenv("STT_MODELS")); models != "" {
		c.Server.Models = ParseModels(models)
	}

	if engine := strings.TrimSpace(os.Getenv("STT_ENGINE")); engine != "" {
		c.Server.Engine = engine
	}
	if key := strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY")); key != "" {
		c.Server.DashScope.APIKey = key
	}

	if url := strings.TrimSpace(os.Getenv("STT_SERVER_URL")); url != "" {
		c.Client.ServerURL = url
	}
	if lang := strings.TrimSpace(os.Getenv("STT_LANG")); lang != "" {
		c.Client.Language = lang
	}

	if key := strings.TrimSpace(os.Getenv("LLM_API_KEY")); key != "" {
		c.Journal.LLM.APIKey = key
	}
	if base := strings.TrimSpace(os.Getenv("LLM_BASE_URL")); base != "" {
		c.Journal.LLM.BaseURL = base
	}
	if model := strings.TrimSpace(os.Getenv("LLM_MODEL")); model != "" {
		c.Journal.LLM.Model = model
	}
}

// ParseModels parses "en=/models/en,vi=/models/vi". Malformed pairs are
// skipped.
func ParseModels(spec string) map[string]string {
	models := map[string]string{}
	for _, pair := range strings.Split(spec, ",") {
		code, dir, ok := strings.Cut(pair, "=")
		code, dir = strings.TrimSpace(code), strings.TrimSpace(dir)
		if !ok || code == "" || dir == "" {
			continue
		}
		models[code] = dir
	}
	return models
}

// Validate checks every section.
func (c *AppConfig) Validate() error {
	return errors.Join(c.ValidateServer(), c.ValidateClient())
}

// ValidateServer checks the sections the server binary uses.
func (c *AppConfig) ValidateServer() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	s := c.Server
	if s.Port <= 0 || s.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}
	if s.SampleRate <= 0 {
		add("server.sample_rate must be positive")
	}
	if s.ReceiveTimeoutMs <= 0 {
		add("server.receive_timeout_ms must be positive")
	}
	if s.PingIntervalMs < 0 || s.PingTimeoutMs < 0 {
		add("server.ping_interval_ms and server.ping_timeout_ms must be non-negative")
	}
	if s.MaxMessageBytes <= 0 {
		add("server.max_message_bytes must be positive")
	}
	switch strings.ToLower(s.Engine) {
	case "", EngineAuto, EngineVosk:
	case EngineDashScope:
		if strings.TrimSpace(s.DashScope.APIKey) == "" {
			add("server.dashscope.api_key (or DASHSCOPE_API_KEY) is required for the dashscope engine")
		}
	default:
		add("server.engine must be auto, vosk or dashscope, got %q", s.Engine)
	}
	codes := make([]string, 0, len(s.Models))
	for code := range s.Models {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if n := len([]rune(code)); n < 1 || n > 10 {
			add("server.models: language code %q must be 1-10 characters", code)
		}
	}

	if c.Journal.Enable {
		if strings.TrimSpace(c.Journal.Path) == "" {
			add("journal.path is required when the journal is enabled")
		}
		if c.Journal.QueueSize <= 0 {
			add("journal.queue_size must be positive")
		}
	}

	return errors.Join(errs...)
}

// ValidateClient checks the client section.
func (c *AppConfig) ValidateClient() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	cl := c.Client
	if cl.SampleRate <= 0 {
		add("client.sample_rate must be positive")
	}
	switch cl.FrameMs {
	case 10, 20, 30:
	default:
		add("client.frame_ms must be 10, 20 or 30")
	}
	if cl.BlockMs <= 0 {
		add("client.block_ms must be positive")
	}
	if cl.SilenceMs < 0 {
		add("client.silence_ms must be non-negative")
	}
	if cl.QueueCapacity < 1 || cl.QueueCapacity > 1000 {
		add("client.queue_capacity must be between 1 and 1000")
	}
	if cl.FinalWaitMs < 0 {
		add("client.final_wait_ms must be non-negative")
	}
	if n := len([]rune(cl.Language)); n < 1 || n > 10 {
		add("client.language must be 1-10 characters")
	}
	switch strings.ToLower(cl.Source.Kind) {
	case SourceMicrophone, SourceLoopback:
	case SourceFile:
		if strings.TrimSpace(cl.Source.File) == "" {
			add("client.source.file is required for file source")
		}
	default:
		add("client.source.kind must be microphone, loopback or file, got %q", cl.Source.Kind)
	}
	switch strings.ToLower(cl.VAD.Engine) {
	case "energy", "webrtc":
	default:
		add("client.vad.engine must be energy or webrtc, got %q", cl.VAD.Engine)
	}
	if cl.VAD.Aggressiveness < 0 || cl.VAD.Aggressiveness > 3 {
		add("client.vad.aggressiveness must be between 0 and 3")
	}

	return errors.Join(errs...)
}

// ValidateCorrector checks the LLM settings used for transcript correction.
func (c *AppConfig) ValidateCorrector() error {
	if strings.TrimSpace(c.Journal.LLM.APIKey) == "" {
		return errors.New("journal.llm.api_key is required")
	}
	if strings.TrimSpace(c.Journal.LLM.Model) == "" {
		return errors.New("journal.llm.model is required")
	}
	return nil
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerConfig) ReceiveTimeout() time.Duration {
	return time.Duration(s.ReceiveTimeoutMs) * time.Millisecond
}

func (s ServerConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalMs) * time.Millisecond
}

func (s ServerConfig) PingTimeout() time.Duration {
	return time.Duration(s.PingTimeoutMs) * time.Millisecond
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}

func (c ClientConfig) FinalWait() time.Duration {
	return time.Duration(c.FinalWaitMs) * time.Millisecond
}
