package storage

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Supported engines.
const (
	EngineMemory = "memory"
	EngineSQLite = "sqlite"
)

// Config selects and parameterizes a backend. Connection fields apply to
// persistent engines only; Host, User, and Password are carried for engines
// that need them and ignored by SQLite.
type Config struct {
	Engine          string        `env:"STORAGE_ENGINE" envDefault:"memory"`
	Path            string        `env:"STORAGE_PATH" envDefault:"storage.db"`
	Host            string        `env:"STORAGE_HOST"`
	User            string        `env:"STORAGE_USER"`
	Password        string        `env:"STORAGE_PASSWORD"`
	IndexingEnabled bool          `env:"STORAGE_INDEXING_ENABLED"`
	SweepInterval   time.Duration `env:"STORAGE_SWEEP_INTERVAL"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse storage env: %w", err)
	}
	return cfg, nil
}
