package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig(Config{BuildPath: "apw.hcl"})
	require.NoError(t, err)
	assert.Equal(t, []string{"all"}, cfg.Targets)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestNewConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing build path", cfg: Config{}, wantErr: "BuildPath is a required configuration field"},
		{name: "log format", cfg: Config{BuildPath: "x", LogFormat: "xml"}, wantErr: "invalid log-format"},
		{name: "log level", cfg: Config{BuildPath: "x", LogLevel: "trace"}, wantErr: "invalid log-level"},
		{name: "port", cfg: Config{BuildPath: "x", HealthcheckPort: 70000}, wantErr: "invalid healthcheck-port"},
		{name: "dump format", cfg: Config{BuildPath: "x", Dump: "svg"}, wantErr: "unknown dump format"},
		{name: "dump with watch", cfg: Config{BuildPath: "x", Dump: "dot", Watch: true}, wantErr: "dump and watch cannot be combined"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(tc.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("valid", func(t *testing.T) {
		cfg, err := NewConfig(Config{
			BuildPath:   "x",
			Targets:     []string{"app"},
			LogFormat:   "json",
			LogLevel:    "debug",
			WorkerCount: 9,
			Dump:        "json",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"app"}, cfg.Targets)
		assert.Equal(t, 9, cfg.WorkerCount)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
