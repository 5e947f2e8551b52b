package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		name        string
		args        []string
		expected    *Config
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd", "-a", "http://example:9090", "-f", "custom.db", "-u", "alice", "-k", "tok", "-i", "10"},
			expected: &Config{
				ServerEndpointAddr:  "http://example:9090",
				DatabasePath:        "custom.db",
				UserID:              "alice",
				AccessToken:         "tok",
				OnlineCheckInterval: 10 * time.Second,
			},
		},
		{
			name:        "incorrect check interval",
			args:        []string{"cmd", "-i", "abc"},
			expectPanic: true,
		},
		{
			name: "no flags keeps defaults",
			args: []string{"cmd"},
			expected: &Config{
				ServerEndpointAddr:  "http://127.0.0.1:8080",
				DatabasePath:        "syncbox.db",
				UserID:              "local",
				OnlineCheckInterval: 3 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			cfg := &Config{}
			cfg.LoadDefaults()

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(cfg) })
				return
			}

			parseFlags(cfg)
			assert.Equal(t, tt.expected, cfg)
		})
	}
}
