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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relearn.yaml")
	writeConfigFile(t, path, "pipeline:\n  cycle_interval: 1h\n")

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watch time to establish before the write.
	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, "pipeline:\n  cycle_interval: 30m\n")

	select {
	case cfg := <-reloaded:
		require.Equal(t, 30*time.Minute, cfg.Pipeline.CycleInterval)
	case <-time.After(5 * time.Second):
		t.Fatal("reload handler never fired")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherReportsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relearn.yaml")
	writeConfigFile(t, path, "pipeline:\n  cycle_interval: 1h\n")

	w := NewWatcher(path, func(*Config) {
		t.Error("handler must not fire for an invalid config")
	})
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, "logging:\n  level: shout\n")

	select {
	case err := <-w.Errors():
		require.ErrorIs(t, err, ErrInvalidConfig)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error reported")
	}

	cancel()
	require.NoError(t, <-done)
}
