package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables understood by the client.
const (
	EnvServerURL      = "CLASSDESK_SERVER_URL"
	EnvRequestTimeout = "CLASSDESK_REQUEST_TIMEOUT"
	EnvDatabasePath   = "CLASSDESK_DB_PATH"
	EnvLogLevel       = "CLASSDESK_LOG_LEVEL"
	EnvLogFormat      = "CLASSDESK_LOG_FORMAT"
	EnvRateLimit      = "CLASSDESK_RATE_LIMIT"
	EnvRateBurst      = "CLASSDESK_RATE_BURST"
	EnvMetricsAddr    = "CLASSDESK_METRICS_ADDR"

	// EnvFileVar names an alternative dotenv file.
	EnvFileVar     = "CLASSDESK_ENV_FILE"
	DefaultEnvFile = ".env"
)

var envKeys = []string{
	EnvServerURL, EnvRequestTimeout, EnvDatabasePath, EnvLogLevel,
	EnvLogFormat, EnvRateLimit, EnvRateBurst, EnvMetricsAddr,
}

// parseEnv overlays cfg with CLASSDESK_* variables. Values from envFile are
// used unless the process environment sets the same key. A missing envFile
// is not an error.
func parseEnv(cfg *Config, envFile string) error {
	vars := map[string]string{}
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", envFile, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			vars[k] = v
		}
	}

	if v, ok := vars[EnvServerURL]; ok && v != "" {
		cfg.ServerURL = v
	}
	if v, ok := vars[EnvRequestTimeout]; ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRequestTimeout, err)
		}
		cfg.RequestTimeout = d
	}
	if v, ok := vars[EnvDatabasePath]; ok && v != "" {
		cfg.DatabasePath = v
	}
	if v, ok := vars[EnvLogLevel]; ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := vars[EnvLogFormat]; ok && v != "" {
		cfg.LogFormat = v
	}
	if v, ok := vars[EnvRateLimit]; ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRateLimit, err)
		}
		cfg.RateLimit = f
	}
	if v, ok := vars[EnvRateBurst]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRateBurst, err)
		}
		cfg.RateBurst = n
	}
	if v, ok := vars[EnvMetricsAddr]; ok {
		cfg.MetricsAddr = v
	}
	return nil
}
