package config

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// Config holds deployment-level settings sourced from the environment.
// Measurement parameters live in the YAML file loaded by LoadFile.
type Config struct {
	// Storage backend: postgres, sqlite or console.
	StorageBackend string
	DatabaseURL    string
	SQLitePath     string

	HTTPPort int

	// Path to the measurement config file.
	ConfigFile string

	GammaAPIURL string
	CLOBAPIURL  string
	WSURL       string

	EnableSnapshots bool
	EnableLifecycle bool

	Logger *zap.Logger
}

// Load reads configuration from environment variables.
func Load(logger *zap.Logger) (*Config, error) {
	cfg := &Config{
		StorageBackend:  getEnvOrDefault("STORAGE_BACKEND", "postgres"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      getEnvOrDefault("SQLITE_PATH", "pairscan.db"),
		HTTPPort:        getEnvIntOrDefault("HTTP_PORT", 8080),
		ConfigFile:      getEnvOrDefault("CONFIG_FILE", "config.yaml"),
		GammaAPIURL:     getEnvOrDefault("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		CLOBAPIURL:      getEnvOrDefault("CLOB_API_URL", "https://clob.polymarket.com"),
		WSURL:           getEnvOrDefault("WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		EnableSnapshots: getEnvBoolOrDefault("ENABLE_SNAPSHOTS", true),
		EnableLifecycle: getEnvBoolOrDefault("ENABLE_LIFECYCLE", true),
		Logger:          logger,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required settings are present for the selected backend.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case "console":
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}
