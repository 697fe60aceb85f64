// Package config loads the shared engine configuration from the
// environment, with a best-effort .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the engine-wide knobs shared by the CLI and the crawler.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Fetching
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchRetries  int           `env:"FETCH_RETRIES" envDefault:"3"`
	FetchRPS      float64       `env:"FETCH_RPS" envDefault:"1"`
	UserAgent     string        `env:"USER_AGENT"`
	RotateUA      bool          `env:"ROTATE_USER_AGENT" envDefault:"false"`
	MaxWorkers    int           `env:"MAX_WORKERS" envDefault:"8"`
	ProxyList     []string      `env:"PROXIES" envSeparator:","`
	ProxyRotation string        `env:"PROXY_ROTATION" envDefault:"round_robin"`

	// Headless rendering
	HeadlessEnabled bool          `env:"HEADLESS_ENABLED" envDefault:"false"`
	HeadlessTimeout time.Duration `env:"HEADLESS_TIMEOUT" envDefault:"60s"`

	// Metrics
	MetricsPort int `env:"METRICS_PORT" envDefault:"0"`
}

// Load reads configuration from the environment. A .env file is applied
// first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
