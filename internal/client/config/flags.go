package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/classdesk/internal/flagx"
)

var knownFlags = []string{"-a", "-t", "-d", "-l", "-f", "-r", "-b", "-m"}

// parseFlags overlays cfg with command-line flags. Only the flags listed in
// knownFlags are looked at, so other components may share os.Args.
//
//	-a string     backend base URL
//	-t duration   per-request timeout
//	-d string     credential database path
//	-l string     log level
//	-f string     log format: text, json or zap
//	-r float      outgoing requests per second, 0 for unlimited
//	-b int        burst for -r
//	-m string     address to serve /metrics on
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("classdesk", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "backend base URL")
	fs.DurationVar(&cfg.RequestTimeout, "t", cfg.RequestTimeout, "per-request timeout")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "credential database path")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "f", cfg.LogFormat, "log format: text, json or zap")
	fs.Float64Var(&cfg.RateLimit, "r", cfg.RateLimit, "outgoing requests per second, 0 for unlimited")
	fs.IntVar(&cfg.RateBurst, "b", cfg.RateBurst, "burst for -r")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "address to serve /metrics on")

	return fs.Parse(args)
}
