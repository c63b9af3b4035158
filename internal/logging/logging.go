package logging

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string
	Format string
}

var (
	baseLogger *zap.Logger
	sugar      *zap.SugaredLogger
	traceID    atomic.Value
)

func init() {
	baseLogger = zap.NewNop()
	sugar = baseLogger.Sugar()
}

func InitFromEnv() error {
	cfg := Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}
	return Init(cfg)
}

func Init(cfg Config) error {
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "console"
	}

	var zapCfg zap.Config
	switch format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s", cfg.Format)
	}

	atomLevel := zap.NewAtomicLevel()
	if err := atomLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %s", cfg.Level)
	}
	zapCfg.Level = atomLevel

	logger, err := zapCfg.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	baseLogger = logger
	sugar = logger.Sugar()
	return nil
}

func Sync() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}

// SetTraceID tags every subsequent log line with id. Blank ids are ignored.
func SetTraceID(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	traceID.Store(id)
}

func NewTraceID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "trace-unknown"
	}
	return hex.EncodeToString(buf)
}

func Debugf(format string, args ...interface{}) {
	withFields().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	withFields().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	withFields().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	withFields().Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	withFields().Fatalf(format, args...)
}

// Logger is a child logger carrying a fixed set of fields, e.g. the identity
// of one connection.
type Logger struct {
	fields []interface{}
}

// With returns a Logger that adds keysAndValues to every line it writes.
func With(keysAndValues ...interface{}) *Logger {
	fields := make([]interface{}, len(keysAndValues))
	copy(fields, keysAndValues)
	return &Logger{fields: fields}
}

// With returns a child of l with additional fields.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keysAndValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keysAndValues...)
	return &Logger{fields: fields}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugared().Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugared().Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugared().Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugared().Errorf(format, args...)
}

// sugared resolves against the current base logger so child loggers created
// before Init still pick up the configured sink.
func (l *Logger) sugared() *zap.SugaredLogger {
	if l == nil {
		return withFields()
	}
	return withFields().With(l.fields...)
}

func withFields() *zap.SugaredLogger {
	tid, _ := traceID.Load().(string)
	if tid == "" {
		tid = "trace-unknown"
	}
	return sugar.With("trace_id", tid)
}
