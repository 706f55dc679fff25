package sync

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conorfennell/dailyreview/internal/config"
)

const defaultDebounce = 500 * time.Millisecond

// Watch re-imports local sources whenever a markdown file under them changes,
// once changes have been quiet for the debounce window. Git sources are not
// watched. Watch blocks until ctx is cancelled.
func (s *Syncer) Watch(ctx context.Context, owner string, sources []config.SourceConfig) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	var roots []string
	for _, src := range sources {
		if src.Repo != "" {
			continue
		}
		root, err := filepath.Abs(src.Path)
		if err != nil {
			return err
		}
		if err := s.addDirRecursive(watcher, root); err != nil {
			return err
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		return errors.New("no local sources to watch")
	}
	s.logger.Info("watching sources", "roots", roots)

	debounce := s.cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := s.addDirRecursive(watcher, event.Name); err != nil {
						s.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					// Files may have landed before the watch was added.
					if root := rootOf(roots, event.Name); root != "" {
						pending[root] = struct{}{}
						timer.Reset(debounce)
					}
					continue
				}
			}
			if !isInteresting(event) {
				continue
			}
			root := rootOf(roots, event.Name)
			if root == "" {
				continue
			}
			pending[root] = struct{}{}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("file watcher error", "error", err)

		case <-timer.C:
			for root := range pending {
				if _, err := s.Reconcile(ctx, owner, root); err != nil {
					s.logger.Error("failed to reconcile source", "root", root, "error", err)
				}
			}
			clear(pending)
		}
	}
}

func (s *Syncer) addDirRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// isInteresting reports whether an event can change the cards in a source.
func isInteresting(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return isMarkdown(event.Name)
}

// rootOf returns the watched root containing path.
func rootOf(roots []string, path string) string {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}
