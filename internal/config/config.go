package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all environment-driven settings. The HCB and session values
// are required; startup aborts when any of them is missing.
type Config struct {
	HCBAPIBase     string `env:"HCB_API_BASE,required"`
	HCBClientID    string `env:"HCB_CLIENT_ID,required"`
	HCBRedirectURI string `env:"HCB_REDIRECT_URI,required"`
	SessionSecret  string `env:"SESSION_SECRET,required"`

	Port     string `env:"ATLAS_PORT" envDefault:"8080"`
	DBPath   string `env:"ATLAS_DB_PATH" envDefault:"atlas.db"`
	LogLevel string `env:"ATLAS_LOG_LEVEL" envDefault:"info"`
	// BaseURL is the public origin used when building instalogin URLs.
	// Falls back to the request host when empty.
	BaseURL string `env:"ATLAS_BASE_URL"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}
