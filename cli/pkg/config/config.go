package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Manager ManagerConfig `mapstructure:"manager"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Sync    SyncConfig    `mapstructure:"sync"`
}

type ManagerConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type AuthConfig struct {
	// Token is the admin JWT sent as a bearer token.
	Token string `mapstructure:"token"`
	// JWTSecret lets an operator mint admin tokens locally with `fleetctl token`.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SyncConfig holds the client side of the signed key sync protocol.
type SyncConfig struct {
	Token  string `mapstructure:"token"`
	Secret string `mapstructure:"secret"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.fleetctl")
	viper.AddConfigPath("/etc/fleetctl/")

	// FLEET_MANAGER_ENDPOINT, FLEET_AUTH_TOKEN, FLEET_SYNC_SECRET, ...
	viper.SetEnvPrefix("FLEET")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.BindEnv("manager.endpoint")
	viper.BindEnv("auth.token")
	viper.BindEnv("auth.jwt_secret")
	viper.BindEnv("sync.token")
	viper.BindEnv("sync.secret")

	viper.SetDefault("manager.endpoint", "http://localhost:9700")
	viper.SetDefault("sync.token", "fleetctl")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.Manager.Endpoint = strings.TrimRight(config.Manager.Endpoint, "/")
	return &config, nil
}

// Save writes the configuration to $HOME/.fleetctl/config.yaml.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".fleetctl")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, "config.yaml")
	viper.SetConfigFile(configFile)

	viper.Set("manager.endpoint", c.Manager.Endpoint)
	viper.Set("auth.token", c.Auth.Token)
	viper.Set("auth.jwt_secret", c.Auth.JWTSecret)
	viper.Set("sync.token", c.Sync.Token)
	viper.Set("sync.secret", c.Sync.Secret)

	if err := viper.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write %s: %w", configFile, err)
	}
	return os.Chmod(configFile, 0600)
}
