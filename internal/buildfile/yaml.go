package buildfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vk/apw/internal/ctxlog"
)

// YAMLLoader reads the `targets` list of YAML files.
type YAMLLoader struct{}

// NewYAMLLoader creates a new YAML build file loader.
func NewYAMLLoader() *YAMLLoader {
	return &YAMLLoader{}
}

type yamlFile struct {
	Targets []yamlTarget `yaml:"targets"`
}

type yamlTarget struct {
	Name      string            `yaml:"name"`
	DependsOn []string          `yaml:"depends_on"`
	Command   commandLine       `yaml:"command"`
	Dir       string            `yaml:"dir"`
	Env       map[string]string `yaml:"env"`
	Message   string            `yaml:"message"`
}

// commandLine is either a shell string or an argument list.
type commandLine []string

func (c *commandLine) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s != "" {
			*c = append(shellCommand(), s)
		}
		return nil
	case yaml.SequenceNode:
		var args []string
		if err := value.Decode(&args); err != nil {
			return err
		}
		*c = args
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list of strings", value.Line)
	}
}

// Extensions implements Loader.
func (l *YAMLLoader) Extensions() []string {
	return []string{".yaml", ".yml"}
}

// LoadFile implements Loader.
func (l *YAMLLoader) LoadFile(ctx context.Context, path string) ([]*Target, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML file %s: %w", path, err)
	}
	return l.Parse(ctx, path, src)
}

// Parse decodes YAML source. filename is only used in diagnostics.
func (l *YAMLLoader) Parse(ctx context.Context, filename string, src []byte) ([]*Target, error) {
	var file yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML file %s: %w", filename, err)
	}

	targets := make([]*Target, 0, len(file.Targets))
	for _, t := range file.Targets {
		targets = append(targets, &Target{
			Name:      t.Name,
			DependsOn: t.DependsOn,
			Command:   t.Command,
			Dir:       t.Dir,
			Env:       t.Env,
			Message:   t.Message,
		})
	}
	ctxlog.FromContext(ctx).Debug("Decoded YAML file.", "file", filename, "targets", len(targets))
	return targets, nil
}
