package buildfile

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
)

var (
	// ErrDuplicateTarget is returned when two targets share a name.
	ErrDuplicateTarget = errors.New("duplicate target")
	// ErrInvalidTarget is returned for targets that cannot be turned into nodes.
	ErrInvalidTarget = errors.New("invalid target")
)

// DefaultTarget is built when no targets are named.
const DefaultTarget = "all"

// Model is the format-agnostic content of one or more build files.
type Model struct {
	Files   []string
	Targets []*Target
}

// Target is a single buildable node.
type Target struct {
	Name      string
	DependsOn []string
	Command   []string
	Dir       string
	Env       map[string]string
	Message   string

	// Source is the file the target was declared in.
	Source string
}

// Inert reports whether the target has nothing to run.
func (t *Target) Inert() bool {
	return len(t.Command) == 0 && t.Message == ""
}

// WorkDir returns the directory the command runs in. Relative directories
// are resolved against the directory of the declaring file.
func (t *Target) WorkDir() string {
	if filepath.IsAbs(t.Dir) || t.Source == "" {
		return t.Dir
	}
	return filepath.Join(filepath.Dir(t.Source), t.Dir)
}

func (t *Target) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w in %s: missing name", ErrInvalidTarget, t.Source)
	}
	if slices.Contains(t.DependsOn, t.Name) {
		return fmt.Errorf("%w '%s' in %s: depends on itself", ErrInvalidTarget, t.Name, t.Source)
	}
	if len(t.Command) > 0 && t.Command[0] == "" {
		return fmt.Errorf("%w '%s' in %s: empty command", ErrInvalidTarget, t.Name, t.Source)
	}
	return nil
}

// Target returns the target called name.
func (m *Model) Target(name string) (*Target, bool) {
	i := slices.IndexFunc(m.Targets, func(t *Target) bool { return t.Name == name })
	if i == -1 {
		return nil, false
	}
	return m.Targets[i], true
}

// Names returns the target names in declaration order.
func (m *Model) Names() []string {
	names := make([]string, len(m.Targets))
	for i, t := range m.Targets {
		names[i] = t.Name
	}
	return names
}

// merge appends the targets of another file.
func (m *Model) merge(file string, targets []*Target) error {
	m.Files = append(m.Files, file)
	for _, t := range targets {
		t.Source = file
		if err := t.validate(); err != nil {
			return err
		}
		if prev, ok := m.Target(t.Name); ok {
			return fmt.Errorf("%w '%s' in %s, first declared in %s", ErrDuplicateTarget, t.Name, file, prev.Source)
		}
		m.Targets = append(m.Targets, t)
	}
	return nil
}
