// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow batches bursts of corpus file writes into a single
// rebuild. Editors produce several events per save.
const DefaultDebounceWindow = 500 * time.Millisecond

// RebuildFunc is invoked after a debounced batch of corpus changes. The
// corpus is always reloaded and re-indexed wholesale, so the callback
// receives only the paths that triggered it, for logging.
type RebuildFunc func(changed []string)

// WatcherOptions configures a corpus Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for further changes before
	// triggering a rebuild. Default DefaultDebounceWindow.
	DebounceWindow time.Duration

	// Logger receives watch events. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Watcher triggers corpus rebuilds when corpus YAML files change.
//
// Description:
//
//	Watches the configured corpus directories for create, write, remove, and
//	rename events on *.yaml and *.yml files. Events are debounced so a burst
//	of editor writes causes one rebuild, not many.
//
// Thread Safety: safe for concurrent use. The rebuild callback runs on a
// single goroutine; it is never invoked concurrently with itself.
type Watcher struct {
	dirs     []string
	rebuild  RebuildFunc
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a watcher over the given corpus directories.
//
// Inputs:
//
//	dirs - Directories holding corpus YAML files. Must not be empty.
//	rebuild - Callback invoked after each debounced change batch.
//	opts - Optional configuration. Nil uses defaults.
//
// Outputs:
//
//	*Watcher - Ready to Start.
//	error - Non-nil if the underlying fsnotify watcher cannot be created.
func NewWatcher(dirs []string, rebuild RebuildFunc, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		opts = &WatcherOptions{}
	}
	debounce := opts.DebounceWindow
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		dirs:     dirs,
		rebuild:  rebuild,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "corpus_watcher")),
		watcher:  fsw,
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Watching stops when ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Info("watching corpus directories", "dirs", w.dirs)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// processEvents filters fsnotify events down to corpus file changes.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isCorpusFile(event.Name) {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				// Buffer full; the pending rebuild covers this change too.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("corpus watch error", "error", err)
		}
	}
}

// debounceLoop batches changed paths and invokes the rebuild callback once
// the debounce window expires without further changes.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []string
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			changed := dedupePaths(batch)
			w.logger.Info("corpus changed, rebuilding", "files", changed)
			if w.rebuild != nil {
				w.rebuild(changed)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			batch = append(batch, path)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

func isCorpusFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

func dedupePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
