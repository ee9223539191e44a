package buildfile

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/vk/apw/internal/ctxlog"
	"github.com/vk/apw/internal/fsutil"
)

// shell runs commands given as a single string.
var shell = []string{"sh", "-c"}

// Loader parses build files of one format.
type Loader interface {
	// Extensions lists the file suffixes the loader understands.
	Extensions() []string
	// LoadFile parses one file into targets.
	LoadFile(ctx context.Context, path string) ([]*Target, error)
}

// Loaders returns every known loader.
func Loaders() []Loader {
	return []Loader{NewHCLLoader(), NewYAMLLoader()}
}

// LoaderFor returns the loader understanding path.
func LoaderFor(path string) (Loader, error) {
	ext := filepath.Ext(path)
	for _, l := range Loaders() {
		if slices.Contains(l.Extensions(), ext) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("unsupported build file %s", path)
}

// Load reads every build file found under paths. A path may be a file or a
// directory, which is searched recursively.
func Load(ctx context.Context, paths ...string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build file loader started.", "path_count", len(paths))

	var exts []string
	for _, l := range Loaders() {
		exts = append(exts, l.Extensions()...)
	}

	var files []string
	for _, path := range paths {
		found, err := fsutil.FindFilesByExtension(path, exts...)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no build files found in %s", path)
		}
		for _, f := range found {
			if !slices.Contains(files, f) {
				files = append(files, f)
			}
		}
	}
	logger.Debug("Discovered build files.", "count", len(files))

	model := &Model{}
	for _, file := range files {
		l, err := LoaderFor(file)
		if err != nil {
			return nil, err
		}
		targets, err := l.LoadFile(ctx, file)
		if err != nil {
			return nil, err
		}
		if err := model.merge(file, targets); err != nil {
			return nil, err
		}
	}

	logger.Debug("Build file loading complete.", "files", len(model.Files), "targets", len(model.Targets))
	return model, nil
}
