package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	base *zap.Logger
}

func NewLogger(level string) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		parseLevel(level),
	)

	return &Logger{base: zap.New(core)}
}

// NewNopLogger discards everything. Used by tests and the CLI.
func NewNopLogger() *Logger {
	return &Logger{base: zap.NewNop()}
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.base.Debug(message, toZapFields(fields)...)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.base.Info(message, toZapFields(fields)...)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.base.Warn(message, toZapFields(fields)...)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.base.Error(message, toZapFields(fields)...)
}

func (l *Logger) Sync() error {
	return l.base.Sync()
}

func toZapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
