package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vk/apw/internal/app"
	"github.com/vk/apw/internal/scheduler"
)

// Version is reported by --version. It is set at link time.
var Version = "dev"

// defaultBuildFiles are looked up in the working directory when no file is
// given.
var defaultBuildFiles = []string{"apw.hcl", "apw.yaml", "apw.yml"}

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Settings not given as flags are read from APW_* environment variables
// and from an optional .apwrc.yaml in the working or home directory.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	var cfg *app.Config
	cmd := NewRootCommand(output, func(c *app.Config) error {
		cfg = c
		return nil
	})
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, false, exitErr
		}
		return nil, false, usageError(err)
	}
	// Help and version output leave cfg unset.
	if cfg == nil {
		return nil, true, nil
	}
	return cfg, false, nil
}

// NewRootCommand builds the apw command. run receives the validated
// configuration.
func NewRootCommand(output io.Writer, run func(*app.Config) error) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "apw [flags] [targets...]",
		Short: "Build targets of a dependency graph in parallel",
		Long: `apw builds the targets declared in HCL or YAML build files, running
independent targets concurrently and every shared dependency only once.

Targets default to 'all'.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := readConfig(v); err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			cfg, err := buildConfig(v, args)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			return run(cfg)
		},
	}
	cmd.SetOut(output)
	cmd.SetErr(output)

	flags := cmd.Flags()
	flags.StringP("file", "f", "", "Build file or directory of build files (default apw.hcl, apw.yaml or apw.yml).")
	flags.IntP("workers", "w", scheduler.DefaultMaxWorkers, "Number of targets built concurrently.")
	flags.Bool("verbose", false, "Verbose output, same as --log-level=debug.")
	flags.Bool("force", false, "Rebuild targets even if up to date. Targets are always rebuilt.")
	flags.Bool("watch", false, "Rebuild whenever a build file changes.")
	flags.String("dump", "", "Print the graph as text, dot or json instead of building.")
	flags.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	flags.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flags.Int("healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	flags.String("config", "", "Config file (default is .apwrc.yaml in the working or home directory).")

	v.SetEnvPrefix("APW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func readConfig(v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return nil
	}

	v.SetConfigName(".apwrc")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func buildConfig(v *viper.Viper, targets []string) (*app.Config, error) {
	path := v.GetString("file")
	if path == "" {
		var err error
		if path, err = findBuildFile("."); err != nil {
			return nil, err
		}
	}

	level := strings.ToLower(v.GetString("log-level"))
	if v.GetBool("verbose") {
		level = "debug"
	}

	return app.NewConfig(app.Config{
		BuildPath:       path,
		Targets:         targets,
		LogFormat:       strings.ToLower(v.GetString("log-format")),
		LogLevel:        level,
		HealthcheckPort: v.GetInt("healthcheck-port"),
		WorkerCount:     v.GetInt("workers"),
		Watch:           v.GetBool("watch"),
		Dump:            strings.ToLower(v.GetString("dump")),
		Force:           v.GetBool("force"),
	})
}

// findBuildFile returns the first default build file present in dir.
func findBuildFile(dir string) (string, error) {
	for _, name := range defaultBuildFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no build file found, looked for %s", strings.Join(defaultBuildFiles, ", "))
}
