/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file on change and swaps it in atomically, so
// readers never observe a partially-applied config. A reload that fails
// validation is logged and the previous config is retained.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	fsw     *fsnotify.Watcher
	logger  *zap.Logger
	done    chan struct{}
}

// NewWatcher loads path once, then begins watching it for changes.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, fsw: fsw, logger: logger, done: make(chan struct{})}
	w.current.Store(cfg)
	go w.run()
	return w, nil
}

// Get returns the currently active config. Safe for concurrent use.
func (w *Watcher) Get() *Config {
	return w.current.Load()
}

// Close stops the underlying file watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// debounce: wait for the writer to finish before re-reading
			time.Sleep(100 * time.Millisecond)
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("config reload failed, retaining previous config", zap.String("path", w.path), zap.Error(err))
		}
		return
	}
	w.current.Store(cfg)
	if w.logger != nil {
		w.logger.Info("config reloaded", zap.String("path", w.path))
	}
}
