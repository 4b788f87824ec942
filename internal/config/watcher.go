package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets holds callbacks that fire when a watched directory changes.
// The running daemon sets OnHooksChange at startup to hot-reload the hook
// registry without restarting (spec.md §4.2's "reload must not interrupt
// in-flight invocations"); it leaves OnCommandsChange unset, since the
// slash-command resolver reads definition files on every lookup.
type WatchTargets struct {
	// OnHooksChange fires when anything under a hook directory is written,
	// created, or removed. Triggers a full hook registry reload.
	OnHooksChange func()

	// OnCommandsChange fires when anything under a slash-command directory
	// changes.
	OnCommandsChange func()
}

// Watcher monitors the configured hook and slash-command directories using
// fsnotify, firing the matching callback when a change is detected.
//
// The watcher runs a background goroutine that processes fsnotify events.
// Call Close() to stop the watcher and release resources.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	hookDirs  map[string]bool
	cmdDirs   map[string]bool
	done      chan struct{}
}

// NewWatcher creates a file watcher across the given hook and
// slash-command directories. Directories that don't yet exist are skipped
// (hooks/commands are optional); a directory created later is only watched
// after the daemon restarts.
func NewWatcher(hookDirs, cmdDirs []string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		fsWatcher: fw,
		hookDirs:  toSet(hookDirs),
		cmdDirs:   toSet(cmdDirs),
		done:      make(chan struct{}),
	}

	for _, dir := range hookDirs {
		if err := fw.Add(dir); err != nil {
			slog.Debug("skipping unwatchable hook directory", "dir", dir, "error", err)
		}
	}
	for _, dir := range cmdDirs {
		if err := fw.Add(dir); err != nil {
			slog.Debug("skipping unwatchable command directory", "dir", dir, "error", err)
		}
	}

	go w.processEvents(targets)

	slog.Info("file watcher started", "hookDirs", len(hookDirs), "cmdDirs", len(cmdDirs))
	return w, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

// processEvents reads fsnotify events and dispatches to the appropriate
// callback. Runs in a background goroutine until Close() is called.
func (w *Watcher) processEvents(targets WatchTargets) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			dir := parentDir(event.Name)
			switch {
			case w.hookDirs[dir]:
				slog.Info("hook directory changed, triggering reload", "path", event.Name)
				if targets.OnHooksChange != nil {
					targets.OnHooksChange()
				}
			case w.cmdDirs[dir]:
				slog.Info("command directory changed, triggering rescan", "path", event.Name)
				if targets.OnCommandsChange != nil {
					targets.OnCommandsChange()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func parentDir(path string) string {
	idx := lastSlash(path)
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

// Close stops the file watcher goroutine and releases the underlying
// fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
