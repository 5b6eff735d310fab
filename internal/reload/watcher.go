// Package reload re-reads the dashboard file when it changes on disk or when
// a reload is requested.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dashd/internal/dashboard"
)

// DefaultDebounce is the quiet period after the last file event before a
// reload runs.
const DefaultDebounce = 250 * time.Millisecond

// Target mounts a parsed dashboard.
type Target interface {
	Load(ctx context.Context, d *dashboard.Dashboard) error
}

// Stats counts reload attempts.
type Stats struct {
	Reloads  uint64 `json:"reloads"`
	Failures uint64 `json:"failures"`
}

// Watcher loads the dashboard file into a target and keeps it current.
type Watcher struct {
	path     string
	debounce time.Duration
	target   Target
	requests chan string

	reloads  atomic.Uint64
	failures atomic.Uint64
}

// New creates a watcher. A non-positive debounce uses DefaultDebounce.
func New(path string, debounce time.Duration, target Target) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		target:   target,
		requests: make(chan string, 1),
	}
}

// Reload reads, parses and mounts the file now. On failure the mounted
// dashboard stays as it was.
func (w *Watcher) Reload(ctx context.Context, reason string) error {
	d, err := dashboard.Load(w.path)
	if err == nil {
		err = w.target.Load(ctx, d)
	}
	if err != nil {
		w.failures.Add(1)
		log.Error().Err(err).Str("path", w.path).Str("reason", reason).Msg("Dashboard reload failed, keeping previous")
		return err
	}

	w.reloads.Add(1)
	log.Info().
		Str("path", w.path).
		Str("reason", reason).
		Int("elements", d.Count()).
		Msg("Dashboard loaded")
	return nil
}

// Trigger requests a reload from Run without waiting for it. Requests made
// while one is pending are merged.
func (w *Watcher) Trigger(reason string) {
	select {
	case w.requests <- reason:
	default:
	}
}

// Stats returns reload counters.
func (w *Watcher) Stats() Stats {
	return Stats{Reloads: w.reloads.Load(), Failures: w.failures.Load()}
}

// Run serves reload requests and, when watch is set, file change events until
// ctx is cancelled. The directory is watched rather than the file so editors
// that replace the file are followed.
func (w *Watcher) Run(ctx context.Context, watch bool) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if watch {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		defer fw.Close()

		if err := fw.Add(filepath.Dir(w.path)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
		}
		events, errs = fw.Events, fw.Errors
		log.Info().Str("path", w.path).Dur("debounce", w.debounce).Msg("Watching dashboard file")
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case reason := <-w.requests:
			_ = w.Reload(ctx, reason)

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Trace().Str("op", event.Op.String()).Msg("Dashboard file event")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			_ = w.Reload(ctx, "file changed")

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Dashboard watcher error")
		}
	}
}
