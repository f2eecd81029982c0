// Package config loads listen-together's runtime configuration from
// environment variables, a .env file, and CLI overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-configurable settings for the coordinator.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	JWTSecret     string `env:"JWT_SECRET"`
	SessionSecret string `env:"SESSION_SECRET"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	AllowPolling bool `env:"LISTEN_TOGETHER_ALLOW_POLLING" envDefault:"false"`

	RedisAdapterEnabled bool   `env:"LISTEN_TOGETHER_REDIS_ADAPTER_ENABLED" envDefault:"true"`
	MQTTBrokerURL       string `env:"LISTEN_TOGETHER_MQTT_BROKER_URL" envDefault:"tcp://localhost:1883"`
	MQTTClientID        string `env:"LISTEN_TOGETHER_MQTT_CLIENT_ID" envDefault:"listen-together"`

	StateStoreEnabled bool   `env:"LISTEN_TOGETHER_STATE_STORE_ENABLED" envDefault:"true"`
	StateStoreDir     string `env:"LISTEN_TOGETHER_STATE_STORE_DIR" envDefault:"./data/groupstore"`

	MutationLockEnabled bool          `env:"LISTEN_TOGETHER_MUTATION_LOCK_ENABLED" envDefault:"true"`
	MutationLockTTL     time.Duration `env:"LISTEN_TOGETHER_MUTATION_LOCK_TTL_MS" envDefault:"3000ms"`
	MutationLockPrefix  string        `env:"LISTEN_TOGETHER_MUTATION_LOCK_PREFIX" envDefault:"listen-together:lock"`

	ReconnectSLO time.Duration `env:"LISTEN_TOGETHER_RECONNECT_SLO_MS" envDefault:"5000ms"`

	DisconnectGrace time.Duration `env:"LISTEN_TOGETHER_DISCONNECT_GRACE_MS" envDefault:"60000ms"`
	ReadyTimeout    time.Duration `env:"LISTEN_TOGETHER_READY_TIMEOUT_MS" envDefault:"4000ms"`
	JoinLead        time.Duration `env:"LISTEN_TOGETHER_JOIN_LEAD_MS" envDefault:"500ms"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	ObsLogEvery    int  `env:"LISTEN_TOGETHER_OBS_LOG_EVERY" envDefault:"25"`

	// CatalogSeedPath optionally points at a JSON file of track descriptors
	// to preload into the static in-process catalog (internal/catalog). A
	// real deployment wires a production music-library lookup in place of
	// this; it exists so cmd/listen-together is runnable standalone.
	CatalogSeedPath string `env:"LISTEN_TOGETHER_CATALOG_SEED_PATH" envDefault:""`

	StatusLogInterval    time.Duration `env:"LISTEN_TOGETHER_STATUS_LOG_INTERVAL_MS" envDefault:"30000ms"`
	GroupStoreGCInterval time.Duration `env:"LISTEN_TOGETHER_GROUPSTORE_GC_INTERVAL_MS" envDefault:"600000ms"`
}

// Validate checks invariants that can't be expressed via struct tags alone.
func (c *Config) Validate() error {
	if c.JWTSecret == "" && c.SessionSecret == "" {
		return fmt.Errorf("one of JWT_SECRET or SESSION_SECRET must be set")
	}
	if c.MutationLockTTL <= 0 {
		return fmt.Errorf("LISTEN_TOGETHER_MUTATION_LOCK_TTL_MS must be positive")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
}

// Load reads configuration from a .env file, environment variables, and CLI
// overrides, in increasing priority order.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}

	return cfg, nil
}

// RetryAfter derives the CONFLICT retry-after hint from the lock TTL,
// clamped to [75ms, 500ms] per spec.
func (c *Config) RetryAfter() time.Duration {
	d := c.MutationLockTTL / 10
	if d < 75*time.Millisecond {
		d = 75 * time.Millisecond
	}
	if d > 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	return d
}
