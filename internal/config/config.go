package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay server runtime parameters.
type Config struct {
	ListenAddress       string          `mapstructure:"listen_address"`
	LogLevel            string          `mapstructure:"log_level"`
	RoomTTL             time.Duration   `mapstructure:"room_ttl"`
	SessionTTL          time.Duration   `mapstructure:"session_ttl"`
	SweepInterval       time.Duration   `mapstructure:"sweep_interval"`
	ShutdownGracePeriod time.Duration   `mapstructure:"shutdown_grace_period"`
	CleanupSecret       string          `mapstructure:"cleanup_secret"`
	AllowedOrigins      []string        `mapstructure:"allowed_origins"`
	Store               StoreConfig     `mapstructure:"store"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

// StoreConfig selects the backend for the polling session API.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// RateLimitConfig holds the per-action request budgets.
type RateLimitConfig struct {
	Create  Limit `mapstructure:"create"`
	Message Limit `mapstructure:"message"`
	Poll    Limit `mapstructure:"poll"`
}

// Limit allows Limit requests per Window.
type Limit struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

const (
	defaultListenAddress       = ":8080"
	defaultLogLevel            = "info"
	defaultRoomTTL             = 15 * time.Minute
	defaultSessionTTL          = 30 * time.Minute
	defaultSweepInterval       = time.Minute
	defaultShutdownGracePeriod = 10 * time.Second
	defaultStoreDriver         = StoreMemory
	defaultStorePath           = "data/sessions.db"
	legacyCleanupSecretEnv     = "CLEANUP_SECRET"
)

var defaultLimits = RateLimitConfig{
	Create:  Limit{Limit: 5, Window: time.Hour},
	Message: Limit{Limit: 30, Window: time.Minute},
	Poll:    Limit{Limit: 60, Window: time.Minute},
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with SHADOWTALK_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHADOWTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("room_ttl", defaultRoomTTL.String())
	v.SetDefault("session_ttl", defaultSessionTTL.String())
	v.SetDefault("sweep_interval", defaultSweepInterval.String())
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("cleanup_secret", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("store.driver", defaultStoreDriver)
	v.SetDefault("store.path", defaultStorePath)
	for name, l := range map[string]Limit{
		"create":  defaultLimits.Create,
		"message": defaultLimits.Message,
		"poll":    defaultLimits.Poll,
	} {
		v.SetDefault("rate_limit."+name+".limit", l.Limit)
		v.SetDefault("rate_limit."+name+".window", l.Window.String())
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings when they come from the environment; normalize them here.
	durations := map[string]*time.Duration{
		"room_ttl":                  &cfg.RoomTTL,
		"session_ttl":               &cfg.SessionTTL,
		"sweep_interval":            &cfg.SweepInterval,
		"shutdown_grace_period":     &cfg.ShutdownGracePeriod,
		"rate_limit.create.window":  &cfg.RateLimit.Create.Window,
		"rate_limit.message.window": &cfg.RateLimit.Message.Window,
		"rate_limit.poll.window":    &cfg.RateLimit.Poll.Window,
	}
	for key, dst := range durations {
		dur, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = dur
	}

	if cfg.CleanupSecret == "" {
		cfg.CleanupSecret = strings.TrimSpace(getenv(legacyCleanupSecretEnv))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaultStoreDriver
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.RoomTTL <= 0 {
		return fmt.Errorf("room_ttl must be positive, got %s", c.RoomTTL)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", c.SessionTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the bolt driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	for name, l := range map[string]Limit{
		"create":  c.RateLimit.Create,
		"message": c.RateLimit.Message,
		"poll":    c.RateLimit.Poll,
	} {
		if l.Limit <= 0 || l.Window <= 0 {
			return fmt.Errorf("rate_limit.%s needs a positive limit and window", name)
		}
	}
	return nil
}

// split out for testing.
var getenv = os.Getenv
