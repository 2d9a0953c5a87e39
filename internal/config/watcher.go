// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher hot-reloads the configuration file and notifies subscribers of the
// tunable sections (scoring weights, decision rules, learning steps). Provider
// identity is deliberately not reloadable: descriptors are immutable after
// startup except for their operational state.
type Watcher struct {
	configFile string
	watcher    *fsnotify.Watcher
	stop       chan struct{}
	stopOnce   sync.Once

	mu        sync.Mutex
	callbacks []func(*Config)
}

// NewWatcher creates a watcher for the given config file. Call Start to begin
// watching and Stop to release the underlying fsnotify resources.
func NewWatcher(configFile string) *Watcher {
	return &Watcher{
		configFile: configFile,
		stop:       make(chan struct{}),
	}
}

// OnReload registers a callback invoked with the freshly parsed config after
// every successful reload. Callbacks run on the watcher goroutine.
func (w *Watcher) OnReload(cb func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching the config file's directory. Watching the directory
// rather than the file survives editors that replace the file on save.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err = watcher.Add(filepath.Dir(w.configFile)); err != nil {
		watcher.Close()
		return err
	}

	go w.run()
	return nil
}

func (w *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configFile) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce bursts of write events from a single save.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configFile)
	if err != nil {
		log.Warnf("config reload skipped, keeping previous config: %v", err)
		return
	}

	log.Infof("config reloaded from %s", w.configFile)

	w.mu.Lock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Stop terminates the watcher goroutine and closes the fsnotify handle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}
