package app

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/apw/internal/buildfile"
	"github.com/vk/apw/internal/ctxlog"
	"github.com/vk/apw/internal/scheduler"
)

// rebuildDelay coalesces the bursts of events editors produce on save.
const rebuildDelay = 100 * time.Millisecond

// watch builds once and then again after every build file change, until ctx
// is done. Failed builds are logged and do not stop watching.
func (a *App) watch(ctx context.Context, pool *scheduler.Pool) error {
	logger := ctxlog.FromContext(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("build file watcher: %w", err)
	}
	defer w.Close()

	dirs, err := a.watchDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("build file watcher add %s: %w", dir, err)
		}
	}

	rebuild := func() {
		if err := a.build(ctx, pool); err != nil && ctx.Err() == nil {
			logger.Error("Build failed; waiting for changes.", "error", err)
		}
	}
	rebuild()
	logger.Info("Watching for changes.", "dirs", dirs)

	timer := time.NewTimer(rebuildDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Watch stopped.")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !a.relevant(ev) {
				continue
			}
			logger.Debug("Build file changed.", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(rebuildDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Build file watcher error.", "error", err)
		case <-timer.C:
			logger.Info("Rebuilding after change.")
			rebuild()
		}
	}
}

// watchDirs returns the directories holding build files. fsnotify watches
// are not recursive, so every subdirectory of a build directory is listed.
func (a *App) watchDirs() ([]string, error) {
	path := a.config.BuildPath
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{filepath.Dir(path)}, nil
	}

	var dirs []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	return dirs, err
}

// relevant reports whether ev touches a build file.
func (a *App) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if info, err := os.Stat(a.config.BuildPath); err == nil && !info.IsDir() {
		return filepath.Clean(ev.Name) == filepath.Clean(a.config.BuildPath)
	}
	_, err := buildfile.LoaderFor(ev.Name)
	return err == nil
}
