// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration when its file changes on disk and
// hands each valid new Config to a callback. Invalid edits are logged and
// skipped, so a typo in the file never tears down a running guard.
type Watcher struct {
	path    string
	onLoad  func(Config)
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a Watcher for the config file at path. onLoad runs on
// the watch goroutine for every successfully reloaded Config.
func NewWatcher(path string, logger *slog.Logger, onLoad func(Config)) (*Watcher, error) {
	if onLoad == nil {
		return nil, fmt.Errorf("%w: watcher requires a reload callback", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create the file watcher: %w", err)
	}
	// Watch the directory. Editors replace files on save, which drops a
	// watch held on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch the config directory: %w", err)
	}

	return &Watcher{path: path, onLoad: onLoad, logger: logger, watcher: fsw}, nil
}

// Run watches until ctx is done. Write bursts are debounced so one editor
// save triggers one reload.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("ignoring invalid config reload", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			w.onLoad(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
