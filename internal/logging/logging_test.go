package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("WARN")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("loud")
	require.Error(t, err)
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]string{
		"dev":        "debug",
		"debug":      "debug",
		"info":       "info",
		"warning":    "warn",
		"production": "error",
		"garbage":    "error",
	}
	for in, want := range cases {
		t.Setenv("LOG_LEVEL", in)
		require.Equal(t, want, LevelFromEnv(), "LOG_LEVEL=%s", in)
	}
}
