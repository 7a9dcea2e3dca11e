package config

import (
	"fmt"
	"time"

	"vpnfleet/core/config"
)

// Config contains all configuration for the manager service
type Config struct {
	Log config.LogConfig `yaml:"log"`

	Manager ManagerConfig `yaml:"manager"`

	Database DatabaseConfig `yaml:"database"`

	Auth AuthConfig `yaml:"auth"`

	// Key sync protocol parameters
	Sync SyncConfig `yaml:"sync"`

	// Response delays on unauthenticated endpoints
	Delay DelayConfig `yaml:"delay"`

	Cache CacheConfig `yaml:"cache"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// ManagerConfig contains the HTTP listener settings
type ManagerConfig struct {
	Host string `yaml:"host" env:"MANAGER_HOST" default:"0.0.0.0"`
	Port int    `yaml:"port" env:"MANAGER_PORT" default:"9700"`
	// PublicHost is written into client key configurations as the remote address.
	PublicHost   string        `yaml:"public_host" env:"PUBLIC_HOST" default:"localhost"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" default:"60s"`
}

// DatabaseConfig selects and configures the record store
type DatabaseConfig struct {
	// Driver is "sqlite" or "etcd".
	Driver        string        `yaml:"driver" env:"DATABASE_DRIVER" default:"sqlite"`
	DSN           string        `yaml:"dsn" env:"DATABASE_URL" default:"file:./vpnfleet.db"`
	MaxOpenConns  int           `yaml:"max_open_conns" default:"1"`
	Debug         bool          `yaml:"debug" env:"DATABASE_DEBUG" default:"false"`
	EtcdEndpoints []string      `yaml:"etcd_endpoints" env:"ETCD_ENDPOINTS" default:"localhost:2379"`
	DialTimeout   time.Duration `yaml:"dial_timeout" default:"5s"`
}

// AuthConfig contains admin API authentication configuration
type AuthConfig struct {
	JWTSecretKey string        `yaml:"-" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" default:"12h"`
}

// SyncConfig bounds the signed key sync protocol
type SyncConfig struct {
	// AuthTimeWindow is the inclusive tolerance between client and server clocks.
	AuthTimeWindow     time.Duration `yaml:"auth_time_window" env:"SYNC_AUTH_TIME_WINDOW" default:"60s"`
	SignatureMaxLength int           `yaml:"signature_max_length" default:"10240"`
	NonceMaxLength     int           `yaml:"nonce_max_length" default:"32"`
	// NonceRetention is how long nonces are kept; zero means twice the time window.
	NonceRetention time.Duration `yaml:"nonce_retention" default:"0s"`
	PruneInterval  time.Duration `yaml:"prune_interval" default:"1m"`
}

// DelayConfig shapes response timing on unauthenticated endpoints
type DelayConfig struct {
	MinJitter time.Duration `yaml:"min_jitter" default:"0s"`
	MaxJitter time.Duration `yaml:"max_jitter" default:"50ms"`
	NotFound  time.Duration `yaml:"not_found" default:"250ms"`
}

// CacheConfig configures the optional redis key link cache
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" default:"0"`
	TTL           time.Duration `yaml:"ttl" default:"5m"`
}

// Enabled reports whether a redis address is configured.
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// MetricsConfig configures prometheus metrics
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
}

// Load loads the manager configuration from multiple sources
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}

	loader := config.NewConfigLoader(config.LoaderConfig{
		ConfigFile:      configFile,
		EnvironmentFile: envFile,
		ServiceName:     "manager",
	})

	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load manager configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("manager configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}
	if len(c.Auth.JWTSecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required")
		}
	case "etcd":
		if len(c.Database.EtcdEndpoints) == 0 {
			return fmt.Errorf("at least one etcd endpoint is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Manager.Port < 1 || c.Manager.Port > 65535 {
		return fmt.Errorf("manager port must be between 1 and 65535")
	}

	if c.Sync.AuthTimeWindow < time.Second {
		return fmt.Errorf("sync auth time window must be at least 1s")
	}
	if c.Sync.SignatureMaxLength <= 0 || c.Sync.NonceMaxLength <= 0 {
		return fmt.Errorf("sync length limits must be positive")
	}
	if c.Sync.NonceRetention != 0 && c.Sync.NonceRetention < c.Sync.AuthTimeWindow {
		return fmt.Errorf("nonce retention must not be shorter than the auth time window")
	}

	if c.Delay.MinJitter < 0 || c.Delay.MaxJitter < c.Delay.MinJitter || c.Delay.NotFound < 0 {
		return fmt.Errorf("delay bounds must be non-negative and max_jitter >= min_jitter")
	}

	return nil
}

// EffectiveNonceRetention returns how long recorded nonces are kept.
func (c *SyncConfig) EffectiveNonceRetention() time.Duration {
	if c.NonceRetention == 0 {
		return 2 * c.AuthTimeWindow
	}
	return c.NonceRetention
}

// GetListenAddress returns the address the manager should listen on
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Manager.Host, c.Manager.Port)
}
