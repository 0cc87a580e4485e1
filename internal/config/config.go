// Package config loads server settings from the environment and game rule
// sets from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config holds process settings.
type Config struct {
	Addr              string        `env:"ADDR" envDefault:":3000"`
	DBPath            string        `env:"DB_PATH" envDefault:"primeduel.db"`
	RulesPath         string        `env:"RULES_PATH"`
	TokenSecret       string        `env:"TOKEN_SECRET"`
	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty         bool          `env:"LOG_PRETTY"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"0s"`
	RoomTTL           time.Duration `env:"ROOM_TTL" envDefault:"10m"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	RatingTolerance   int           `env:"RATING_TOLERANCE" envDefault:"300"`
	DefaultDifficulty string        `env:"DEFAULT_DIFFICULTY" envDefault:"normal"`
}

// Load reads Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.RatingTolerance < 0 {
		return Config{}, fmt.Errorf("RATING_TOLERANCE must not be negative, got %d", cfg.RatingTolerance)
	}
	if cfg.HeartbeatTimeout < 0 || cfg.RoomTTL < 0 || cfg.SweepInterval < 0 {
		return Config{}, fmt.Errorf("durations must not be negative")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// Level returns the configured log level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
