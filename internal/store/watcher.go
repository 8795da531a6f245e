package store

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"personaut/internal/project"
)

// WatchProject watches a project's planning directory and re-derives the
// completion map when stage files change out-of-band (manual edits,
// external tooling). onChange receives the fresh completion map; callers
// re-derive the current stage from it rather than trusting any cached
// value. Blocks until ctx is cancelled.
func (s *Store) WatchProject(ctx context.Context, name string, onChange func(project.Completion)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(project.PlanningDir(s.workspace, name)); err != nil {
		return err
	}
	// The master lives in the project root.
	if err := watcher.Add(project.Dir(s.workspace, name)); err != nil {
		return err
	}

	// Editors fire bursts of writes; coalesce before re-scanning.
	deb := NewDebouncer(s.debounce)
	defer deb.Cancel()

	notify := func() {
		completion, err := s.CheckProjectFiles(name)
		if err != nil {
			s.logger.Warn("completion re-scan failed",
				zap.String("project", name), zap.Error(err))
			return
		}
		onChange(completion)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				deb.Debounce(notify)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", zap.String("project", name), zap.Error(err))
		}
	}
}
