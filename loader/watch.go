package loader

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the discovery cache whenever a file changes under any of
// the search roots for projectPath. It blocks until ctx is done. Directories
// that do not exist yet are skipped; mtime validation on cache reads still
// catches changes there.
func (l *Loader) Watch(ctx context.Context, projectPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range l.searchDirs(projectPath) {
		if err := watcher.Add(dir.path); err != nil {
			l.logger.Debug("not watching workflow dir", "dir", dir.path, "error", err)
		}
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
				l.logger.Debug("workflow file changed, clearing cache", "file", event.Name)
				l.ClearCache()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("workflow watcher error", "error", err)
		}
	}
}
