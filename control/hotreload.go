// File: control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Settings file watcher. The parent directory is watched rather than
// the file itself because most editors and config deploys replace the
// file instead of rewriting it in place.

package control

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/momentics/wsloop/api"
)

// Watcher re-reads a settings file when it changes and hands each valid
// result to the registered listeners. Invalid intermediate states are
// logged and skipped, keeping the last good settings in force.
type Watcher struct {
	path string
	log  *zap.Logger
	fw   *fsnotify.Watcher

	mu        sync.Mutex
	listeners []func(api.Settings)

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts watching the settings file at path.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		path: abs,
		log:  log,
		fw:   fw,
		done: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// OnReload registers a listener for successfully reloaded settings.
func (w *Watcher) OnReload(fn func(api.Settings)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.Reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Reload re-reads the file immediately and notifies listeners on
// success. Exposed so callers can force a deterministic reload without
// waiting for a filesystem event.
func (w *Watcher) Reload() {
	s, err := LoadSettings(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.log.Info("settings reloaded", zap.String("path", w.path))
	w.mu.Lock()
	listeners := append([]func(api.Settings){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
