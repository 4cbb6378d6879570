package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Wadera/clawboard/internal/logging"
)

var watcherLog = logging.ForComponent(logging.CompRegistry)

// debounceWindow coalesces the create+write+rename burst the agent runtime
// produces on each registry rewrite into a single notification.
const debounceWindow = 100 * time.Millisecond

// Watcher signals when the registry file is rewritten by the agent runtime.
// It never reads or caches registry contents itself; consumers re-read via a
// Reader when poked.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	changeCh chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher for the registry file. The parent directory is
// watched because runtimes typically rewrite via temp-file-plus-rename, which
// replaces the watched inode.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  fsw,
		changeCh: make(chan struct{}, 1), // buffered so notification never blocks
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins watching. Must be called in a goroutine; blocks until Stop().
func (w *Watcher) Start() {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		watcherLog.Warn("registry_watch_failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return
	}

	var debounce *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, w.notify)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			watcherLog.Warn("registry_watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) notify() {
	select {
	case w.changeCh <- struct{}{}:
	default:
		// A poke is already pending; consumers re-read everything anyway.
	}
}

// Changes returns the channel that receives a poke per registry rewrite.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changeCh
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}
