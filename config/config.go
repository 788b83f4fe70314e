// Package config holds initialization parameters for the conversation
// service: server bind address, store location, engine limits, and the
// path to the agent catalog.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	defaultListenAddr    = ":8080"
	defaultDatabasePath  = "data/converse.db"
	defaultCatalogPath   = "agents.yaml"
	defaultMaxIterations = 10
	defaultLogLevel      = "info"
)

// Config holds initialization parameters for all service subsystems.
type Config struct {
	ListenAddr    string `json:"listen_addr,omitempty"`
	DatabasePath  string `json:"database_path,omitempty"`
	CatalogPath   string `json:"catalog_path,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for all fields.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    defaultListenAddr,
		DatabasePath:  defaultDatabasePath,
		CatalogPath:   defaultCatalogPath,
		MaxIterations: defaultMaxIterations,
		LogLevel:      defaultLogLevel,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.ListenAddr != "" {
		c.ListenAddr = source.ListenAddr
	}
	if source.DatabasePath != "" {
		c.DatabasePath = source.DatabasePath
	}
	if source.CatalogPath != "" {
		c.CatalogPath = source.CatalogPath
	}
	if source.MaxIterations > 0 {
		c.MaxIterations = source.MaxIterations
	}
	if source.LogLevel != "" {
		c.LogLevel = source.LogLevel
	}
}

// FromEnv overlays environment variables onto c. Variables are optional;
// unset ones leave the current value in place.
func (c *Config) FromEnv() {
	overlay := Config{
		ListenAddr:   os.Getenv("CONVERSE_LISTEN_ADDR"),
		DatabasePath: os.Getenv("CONVERSE_DB_PATH"),
		CatalogPath:  os.Getenv("CONVERSE_AGENTS_PATH"),
		LogLevel:     os.Getenv("CONVERSE_LOG_LEVEL"),
	}
	c.Merge(&overlay)
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
