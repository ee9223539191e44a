package buildfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/apw/internal/ctxlog"
)

// HCLLoader reads `target` blocks from HCL files.
type HCLLoader struct{}

// NewHCLLoader creates a new HCL build file loader.
func NewHCLLoader() *HCLLoader {
	return &HCLLoader{}
}

// fileRoot is a struct used to decode all top-level blocks of a file.
type fileRoot struct {
	Targets []*hclTarget `hcl:"target,block"`
	Remain  hcl.Body     `hcl:",remain"`
}

type hclTarget struct {
	Name      string            `hcl:"name,label"`
	DependsOn []string          `hcl:"depends_on,optional"`
	Command   hcl.Expression    `hcl:"command,optional"`
	Dir       string            `hcl:"dir,optional"`
	Env       map[string]string `hcl:"env,optional"`
	Message   string            `hcl:"message,optional"`
}

// Extensions implements Loader.
func (l *HCLLoader) Extensions() []string {
	return []string{".hcl"}
}

// LoadFile implements Loader.
func (l *HCLLoader) LoadFile(ctx context.Context, path string) ([]*Target, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HCL file %s: %w", path, err)
	}
	return l.Parse(ctx, path, src)
}

// Parse decodes HCL source. filename is only used in diagnostics.
func (l *HCLLoader) Parse(ctx context.Context, filename string, src []byte) ([]*Target, error) {
	logger := ctxlog.FromContext(ctx)

	// The parser caches files by name, so each call gets its own.
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	evalCtx := newEvalContext()
	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, evalCtx, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	targets := make([]*Target, 0, len(root.Targets))
	for _, b := range root.Targets {
		cmd, err := decodeCommand(b.Command, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("%w '%s' in %s: %w", ErrInvalidTarget, b.Name, filename, err)
		}
		targets = append(targets, &Target{
			Name:      b.Name,
			DependsOn: b.DependsOn,
			Command:   cmd,
			Dir:       b.Dir,
			Env:       b.Env,
			Message:   b.Message,
		})
	}
	logger.Debug("Decoded HCL file.", "file", filename, "targets", len(targets))
	return targets, nil
}

// newEvalContext exposes the process environment as `env`.
func newEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

// decodeCommand accepts a string, run through the shell, or a list of
// strings. An omitted attribute yields no command.
func decodeCommand(expr hcl.Expression, evalCtx *hcl.EvalContext) ([]string, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, errors.New("command must be known")
	}
	if val.Type() == cty.String {
		return append(shellCommand(), val.AsString()), nil
	}

	list, err := convert.Convert(val, cty.List(cty.String))
	if err != nil {
		return nil, fmt.Errorf("command must be a string or a list of strings: %w", err)
	}
	var cmd []string
	if err := gocty.FromCtyValue(list, &cmd); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	return cmd, nil
}

func shellCommand() []string {
	return append([]string(nil), shell...)
}
