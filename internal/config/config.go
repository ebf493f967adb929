// Package config loads service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Worker  WorkerConfig
	Logging LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// StorageConfig holds sqlite and cast-recording paths.
type StorageConfig struct {
	DBPath  string `envconfig:"DB_PATH" default:"data/sessions.db"`
	CastDir string `envconfig:"CAST_DIR" default:"data/casts"`
}

// WorkerConfig holds the supervised worker's launch settings.
type WorkerConfig struct {
	Entry string `envconfig:"WORKER_ENTRY" default:""`
	Port  int    `envconfig:"WORKER_PORT" default:"9090"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
