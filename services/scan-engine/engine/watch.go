package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debouncer coalesces a burst of hits into a single tick, delivered one
// full window after the latest hit.
type debouncer struct {
	window time.Duration
	timer  *time.Timer
	c      <-chan time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

// hit starts or extends the window. A tick that already fired but was not
// yet consumed is discarded so it cannot cut the new window short.
func (d *debouncer) hit() {
	if d.timer == nil {
		d.timer = time.NewTimer(d.window)
		d.c = d.timer.C
		return
	}
	if !d.timer.Stop() {
		select {
		case <-d.c:
		default:
		}
	}
	d.timer.Reset(d.window)
}

// fire returns the tick channel; nil (blocking forever) until the first hit.
func (d *debouncer) fire() <-chan time.Time { return d.c }

// reset disarms after a consumed tick.
func (d *debouncer) reset() {
	d.timer = nil
	d.c = nil
}

// WatchDir watches a rule directory and invokes onChange after write,
// create, remove, or rename events touching .json files, debounced so one
// editor save or rsync burst triggers a single reload. Blocks until ctx
// ends.
func WatchDir(ctx context.Context, dir string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	slog.Info("watching rule directory", "dir", dir)

	deb := newDebouncer(debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			deb.hit()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("rule watcher error", "error", err)
		case <-deb.fire():
			deb.reset()
			onChange()
		}
	}
}
