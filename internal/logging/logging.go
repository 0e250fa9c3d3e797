package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a structured zap logger with the provided level string.
func NewLogger(level string) (*zap.Logger, error) {
	lower := strings.ToLower(level)
	var zapLevel zapcore.Level
	if err := zapLevel.Set(lower); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "msg"

	return cfg.Build()
}

// LevelFromEnv maps LOG_LEVEL to a zap level name.
// The terminal client defaults to errors only so log lines don't tear the UI.
func LevelFromEnv() string {
	l, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return "error"
	}
	switch strings.ToLower(l) {
	case "dev", "development", "debug":
		return "debug"
	case "info":
		return "info"
	case "warn", "warning":
		return "warn"
	default:
		return "error"
	}
}

// NewCLILogger writes console-encoded logs to stderr at the LOG_LEVEL level.
func NewCLILogger() *zap.Logger {
	var level zapcore.Level
	_ = level.Set(LevelFromEnv())

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}
