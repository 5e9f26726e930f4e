package staging

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher follows create and remove events in the staging directory and keeps
// the set of staged files that currently exist.
type Watcher struct {
	watcher *fsnotify.Watcher
	log     *slog.Logger

	mu      sync.Mutex
	live    map[string]struct{}
	created uint64
	done    chan struct{}
}

// Watch starts observing the manager's directory until ctx is cancelled or
// Close is called.
func (m *Manager) Watch(ctx context.Context) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("staging: create watcher: %w", err)
	}
	if err := fw.Add(m.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("staging: watch %s: %w", m.dir, err)
	}

	w := &Watcher{
		watcher: fw,
		log:     m.log.With("component", "staging.Watcher"),
		live:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("staging watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !strings.HasPrefix(filepath.Base(event.Name), filePrefix) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case event.Has(fsnotify.Create):
		w.live[event.Name] = struct{}{}
		w.created++
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(w.live, event.Name)
	}
}

// Live returns the number of staged files that exist right now.
func (w *Watcher) Live() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.live)
}

// Created returns how many staged files were observed since Watch started.
func (w *Watcher) Created() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.created
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
