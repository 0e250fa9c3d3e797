package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Cleanup(func() { getenv = os.Getenv })
	getenv = func(string) string { return "" }

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, defaultListenAddress, cfg.ListenAddress)
	require.Equal(t, defaultLogLevel, cfg.LogLevel)
	require.Equal(t, defaultRoomTTL, cfg.RoomTTL)
	require.Equal(t, defaultSessionTTL, cfg.SessionTTL)
	require.Equal(t, defaultSweepInterval, cfg.SweepInterval)
	require.Equal(t, defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	require.Equal(t, StoreMemory, cfg.Store.Driver)
	require.Equal(t, defaultLimits, cfg.RateLimit)
	require.Empty(t, cfg.CleanupSecret)
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
listen_address: "127.0.0.1:7001"
log_level: "debug"
room_ttl: "20m"
store:
  driver: "bolt"
  path: "/tmp/sessions.db"
rate_limit:
  poll:
    limit: 10
    window: "30s"
`), 0o644))

	t.Setenv("SHADOWTALK_LISTEN_ADDRESS", ":6000")
	t.Setenv("SHADOWTALK_SESSION_TTL", "45m")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.Equal(t, ":6000", cfg.ListenAddress)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 20*time.Minute, cfg.RoomTTL)
	require.Equal(t, 45*time.Minute, cfg.SessionTTL)
	require.Equal(t, StoreBolt, cfg.Store.Driver)
	require.Equal(t, "/tmp/sessions.db", cfg.Store.Path)
	require.Equal(t, Limit{Limit: 10, Window: 30 * time.Second}, cfg.RateLimit.Poll)
	require.Equal(t, defaultLimits.Create, cfg.RateLimit.Create)
}

func TestLoadCleanupSecretFallback(t *testing.T) {
	t.Cleanup(func() { getenv = os.Getenv })
	getenv = func(key string) string {
		if key == legacyCleanupSecretEnv {
			return " hunter2 "
		}
		return ""
	}

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "hunter2", cfg.CleanupSecret)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SHADOWTALK_ROOM_TTL", "soon")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("SHADOWTALK_ROOM_TTL", "15m")
	t.Setenv("SHADOWTALK_STORE_DRIVER", "postgres")
	_, err = Load("")
	require.ErrorContains(t, err, "store.driver")
}

func TestLoadClient(t *testing.T) {
	t.Cleanup(func() { getenv = os.Getenv })
	getenv = func(string) string { return "" }

	cfg, err := LoadClient(ClientOptions{})
	require.NoError(t, err)
	require.Equal(t, DefaultServerURL, cfg.WebSocketURL)
	require.Equal(t, "http://localhost:8080", cfg.APIURL)
	require.False(t, cfg.Reconnect)

	getenv = func(key string) string {
		switch key {
		case "SHADOWTALK_SERVER":
			return "https://chat.example.com"
		case "SHADOWTALK_RECONNECT":
			return "true"
		}
		return ""
	}
	cfg, err = LoadClient(ClientOptions{})
	require.NoError(t, err)
	require.Equal(t, "wss://chat.example.com/ws", cfg.WebSocketURL)
	require.Equal(t, "https://chat.example.com", cfg.APIURL)
	require.True(t, cfg.Reconnect)

	cfg, err = LoadClient(ClientOptions{ServerURL: "wss://relay.example.com/ws"})
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example.com/ws", cfg.WebSocketURL)
	require.Equal(t, "https://relay.example.com", cfg.APIURL)

	_, err = LoadClient(ClientOptions{ServerURL: "ftp://nope"})
	require.Error(t, err)
}
