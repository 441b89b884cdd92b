package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file on write and hands the new value to every
// registered callback, grounded on internal/api/notifications.go's
// fsnotify-watcher goroutine idiom (watch one directory, dispatch on
// Create/Write events, ignore Errors rather than fail the watch loop).
// Nothing in cmd/conduct constructs a Watcher; the CLI reads its config
// once at startup.
type Watcher struct {
	path string

	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once, then starts watching it for changes. If the
// underlying fsnotify watcher cannot be created, Watcher still works as a
// static, one-shot load (mirroring notifications.go's "continue without
// watcher" fallback).
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Watcher{path: path, current: cfg, done: make(chan struct{})}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	w.watcher = fw
	if err := fw.Add(path); err != nil {
		fw.Close()
		w.watcher = nil
		return w, nil
	}

	go w.watch()
	return w, nil
}

// Current returns the most recently loaded (and validated) config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers fn to be called, with the new config, every time the
// watched file is reloaded successfully. fn is also called once
// immediately with the current config.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	current := w.current
	w.mu.Unlock()
	fn(current)
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case <-w.watcher.Errors:
			// Ignore errors, keep watching.
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		return
	}
	if err := cfg.Validate(); err != nil {
		return
	}

	w.mu.Lock()
	w.current = cfg
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// Close stops the watch goroutine.
func (w *Watcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
