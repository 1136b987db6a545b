package audit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type FileSinkConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// FileSink appends audit events as JSON lines to a rotated local file.
// Rotated files are never aged out here; retention is a records-management decision.
type FileSink struct {
	rotator *lumberjack.Logger
	core    zapcore.Core
}

func NewFileSink(cfg FileSinkConfig) *FileSink {
	if cfg.Path == "" {
		cfg.Path = "logs/fallback_security.log"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "logged_at",
		MessageKey:  "event_type",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	return &FileSink{
		rotator: rotator,
		core: zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			zapcore.DebugLevel,
		),
	}
}

func (s *FileSink) Write(event Event) error {
	entry := zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    event.Timestamp,
		Message: string(event.EventType),
	}
	return s.core.Write(entry, []zap.Field{
		zap.String("id", event.ID),
		zap.Time("timestamp", event.Timestamp),
		zap.String("user_id", event.UserID),
		zap.String("ip_address", event.IPAddress),
		zap.String("user_agent", event.UserAgent),
		zap.String("details", event.Details),
		zap.String("severity", string(event.Severity)),
	})
}

func (s *FileSink) Close() error {
	return s.rotator.Close()
}
