package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected *Config
		wantErr  bool
	}{
		{
			name: "all flags",
			args: []string{"-a", "https://api.example.org", "-t", "10s", "-d", "/tmp/c.db", "-l", "debug", "-f", "zap", "-r", "3", "-b", "6", "-m", ":9102"},
			expected: &Config{
				ServerURL: "https://api.example.org", RequestTimeout: 10 * time.Second, DatabasePath: "/tmp/c.db",
				LogLevel: "debug", LogFormat: "zap", RateLimit: 3, RateBurst: 6, MetricsAddr: ":9102",
			},
		},
		{
			name:     "foreign flags are ignored",
			args:     []string{"-c", "cfg.json", "-x", "1", "-a=http://h:1"},
			expected: &Config{ServerURL: "http://h:1"},
		},
		{
			name:    "bad duration",
			args:    []string{"-t", "abc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			err := parseFlags(cfg, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, cfg))
		})
	}
}
