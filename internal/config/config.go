// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the communication core.
type Config struct {
	// LogFormat selects "text" or "json" output.
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	// CoalesceWindow is how long the sync manager batches updates to one
	// entity before applying and publishing them.
	CoalesceWindow time.Duration `env:"MODLINK_COALESCE_WINDOW" envDefault:"25ms"`
	// RequestTimeout is the default SendRequest timeout.
	RequestTimeout time.Duration `env:"MODLINK_REQUEST_TIMEOUT" envDefault:"5s"`
	// BusBuffer is the per-subscription delivery pipe depth.
	BusBuffer int `env:"MODLINK_BUS_BUFFER" envDefault:"64"`
	// RulesPath optionally points at a JSON routing-rules file.
	RulesPath string `env:"MODLINK_RULES_PATH"`
	// WatchRules enables hot reload of the rules file.
	WatchRules bool `env:"MODLINK_WATCH_RULES" envDefault:"false"`
}

// New loads configuration from a .env file (if present) and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return &cfg, nil
}
