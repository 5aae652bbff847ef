// Package config loads server configuration: an optional YAML file
// overlaid by environment variables, env-default tags supplying the
// baseline, in the layered style the rest of this codebase uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full set of server-tunable knobs.
type Config struct {
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
	OTEL    OTEL    `yaml:"otel"`
	Admin   Admin   `yaml:"admin"`
}

// Server controls the RESP listener and its admission control.
type Server struct {
	Addr            string `yaml:"addr" env:"SERVER_ADDR" env-default:":6379"`
	MaxConnections  int    `yaml:"max_connections" env:"SERVER_MAX_CONNECTIONS" env-default:"250"`
	AcceptRateLimit int    `yaml:"accept_rate_limit" env:"SERVER_ACCEPT_RATE_LIMIT" env-default:"500"`
	AcceptBurst     int    `yaml:"accept_burst" env:"SERVER_ACCEPT_BURST" env-default:"64"`
	BackoffInitial  string `yaml:"backoff_initial" env:"SERVER_BACKOFF_INITIAL" env-default:"1s"`
	BackoffMax      string `yaml:"backoff_max" env:"SERVER_BACKOFF_MAX" env-default:"64s"`
}

// Logging controls the default logger's verbosity.
type Logging struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// OTEL controls the optional tracing feature; see internal/telemetry.
type OTEL struct {
	Enabled              bool   `yaml:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	ExporterOTLPEndpoint string `yaml:"exporter_otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Admin controls the optional diagnostics HTTP server; empty Addr disables it.
type Admin struct {
	Addr string `yaml:"addr" env:"ADMIN_ADDR"`
}

// Load reads config/shared.yml if present, then overlays environment
// variables (which always win). CONFIG_DIR overrides the default
// "config" directory.
func Load() (*Config, error) {
	cfg := &Config{}

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}

	sharedPath := filepath.Join(configDir, "shared.yml")
	if _, err := os.Stat(sharedPath); err == nil {
		if err := cleanenv.ReadConfig(sharedPath, cfg); err != nil {
			return nil, fmt.Errorf("read shared config: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment variables: %w", err)
	}

	return cfg, nil
}
