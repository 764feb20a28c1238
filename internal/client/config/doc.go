// Package config loads runtime configuration for the classdesk terminal client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Environment: CLASSDESK_* variables, with a dotenv file (".env" or
//     $CLASSDESK_ENV_FILE) filling in keys the process environment lacks.
//  3. Optional JSON file selected via -c or -config.
//  4. Command-line flags, which override everything else.
//
// # JSON schema
//
// Durations use timex.Duration, so they may be strings like "30s" or integer
// nanoseconds:
//
//	{
//	  "server_url": "https://classdesk.example.org",
//	  "request_timeout": "30s",
//	  "database_path": "/var/lib/classdesk/client.db",
//	  "log_level": "debug",
//	  "log_format": "zap",
//	  "rate_limit": 5,
//	  "rate_burst": 10,
//	  "metrics_addr": "127.0.0.1:9102"
//	}
package config
