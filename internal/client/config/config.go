package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dmitrijs2005/classdesk/internal/flagx"
	"github.com/dmitrijs2005/classdesk/internal/logging"
)

// Config holds runtime settings of the classdesk terminal client.
type Config struct {
	// ServerURL is the base URL of the backend, e.g. http://localhost:8080.
	ServerURL string
	// RequestTimeout bounds every backend call.
	RequestTimeout time.Duration
	// DatabasePath is the SQLite file holding the credential store.
	// ":memory:" keeps credentials for the lifetime of the process only.
	DatabasePath string
	LogLevel     string
	LogFormat    string
	// RateLimit caps outgoing requests per second; 0 disables the cap.
	RateLimit float64
	RateBurst int
	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://localhost:8080"
	c.RequestTimeout = 30 * time.Second
	c.DatabasePath = "classdesk.db"
	c.LogLevel = "info"
	c.LogFormat = logging.FormatText
	c.RateLimit = 0
	c.RateBurst = 1
	c.MetricsAddr = ""
}

// Validate reports settings the client cannot run with.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server url %q must be an absolute http(s) url", c.ServerURL))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	switch c.LogFormat {
	case logging.FormatText, logging.FormatJSON, logging.FormatZap:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, errors.New("rate burst must be at least 1"))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config from defaults, then the environment (including
// a .env file), then a JSON file given by -c/-config, then command-line
// flags. Later sources take precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	envFile := os.Getenv(EnvFileVar)
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := parseEnv(cfg, envFile); err != nil {
		return nil, err
	}
	if err := parseJSON(cfg, flagx.ConfigFileFlag()); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, os.Args[1:]); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
