// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler receives the freshly loaded configuration after the file
// on disk changes and passes validation.
type ReloadHandler func(cfg *Config)

// Watcher reloads the config file when it changes on disk.
//
// # Description
//
// Watches the directory containing the config file (editors replace files
// rather than writing in place, so watching the file itself misses
// renames). Changes are debounced; a reload only fires once writes settle.
// Reloads that fail to parse or validate are logged by the caller via the
// returned error channel and the previous configuration stays active.
//
// # Thread Safety
//
// The handler is called from a single goroutine.
type Watcher struct {
	path     string
	debounce time.Duration
	handler  ReloadHandler
	errs     chan error
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, handler ReloadHandler) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		handler:  handler,
		errs:     make(chan error, 8),
	}
}

// Errors returns reload failures. The channel is never closed; failed
// reloads keep the previous configuration active.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Run watches until the context is cancelled.
//
// # Inputs
//
//   - ctx: Cancelling the context stops the watcher and releases the
//     underlying fsnotify resources.
//
// # Outputs
//
//   - error: Non-nil if the watch could not be established.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: restart the timer on every change.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			cfg, err := Load(w.path)
			if err != nil {
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			w.handler(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}
