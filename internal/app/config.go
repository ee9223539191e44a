package app

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vk/apw/internal/buildfile"
	"github.com/vk/apw/internal/dump"
	"github.com/vk/apw/internal/scheduler"
)

var (
	logFormats = []string{"text", "json"}
	logLevels  = []string{"debug", "info", "warn", "error"}
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	BuildPath string // build file or directory of build files
	Targets   []string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	WorkerCount     int

	Watch bool
	Dump  string // empty, or a dump format printed instead of building
	Force bool
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.BuildPath == "" {
		return nil, errors.New("BuildPath is a required configuration field and cannot be empty")
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = []string{buildfile.DefaultTarget}
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = scheduler.DefaultMaxWorkers
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if !slices.Contains(logFormats, cfg.LogFormat) {
		return nil, fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !slices.Contains(logLevels, cfg.LogLevel) {
		return nil, fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck-port %d", cfg.HealthcheckPort)
	}
	if cfg.Dump != "" {
		if _, err := dump.ParseFormat(cfg.Dump); err != nil {
			return nil, err
		}
		if cfg.Watch {
			return nil, errors.New("dump and watch cannot be combined")
		}
	}
	return &cfg, nil
}
