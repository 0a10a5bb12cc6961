package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// AllowedOrigins is the CORS allow list of the local API.
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Schedule API
	APIBaseURL  string        `env:"API_BASE_URL" envDefault:"https://schedule-mercocamp-back-end.up.railway.app/api"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`

	// Resilience. Retries are off unless MAX_RETRIES is set.
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"0"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"200ms"`

	// Session
	TokenRenewalInterval time.Duration `env:"TOKEN_RENEWAL_INTERVAL" envDefault:"15m"`
	LoginPath            string        `env:"LOGIN_PATH" envDefault:"/login"`

	// Ingestion & list
	ClientsCacheTTL   time.Duration `env:"CLIENTS_CACHE_TTL" envDefault:"5m"`
	WizardCloseDelay  time.Duration `env:"WIZARD_CLOSE_DELAY" envDefault:"1500ms"`
	SchedulesPageSize int           `env:"SCHEDULES_PAGE_SIZE" envDefault:"10"`

	// Storage. Empty means the XDG data home.
	DataDir string `env:"DATA_DIR"`

	// Observability. Empty disables trace export.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// DefaultDataDir is where credentials are persisted when DATA_DIR is unset.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "agenda")
}

// Load reads the optional .env files, then the process environment.
// Variables already set in the environment are never overridden.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL must not be empty"))
	}
	if c.TokenRenewalInterval <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_RENEWAL_INTERVAL must be positive, got %s", c.TokenRenewalInterval))
	}
	if c.SchedulesPageSize <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULES_PAGE_SIZE must be positive, got %d", c.SchedulesPageSize))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries))
	}
	return errors.Join(errs...)
}

// Addr is the listen address of the local server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
