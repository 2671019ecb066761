// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler receives the re-validated configuration after the file
// on disk changes. Only runtime tunables (cache TTLs, budget ceilings)
// should be applied from it; structural settings like the provider pool
// and listener require a restart.
type ReloadHandler func(cfg Config)

// defaultDebounce batches the editor-save write bursts into one reload.
const defaultDebounce = 250 * time.Millisecond

// Watch re-loads the config file whenever it changes and hands the
// result to the handler. Watching the parent directory rather than the
// file itself survives the rename-over-write pattern used by most
// editors and by Kubernetes ConfigMap mounts.
//
// Blocks until ctx is canceled; callers run it in a goroutine.
func Watch(ctx context.Context, path string, handler ReloadHandler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

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
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(defaultDebounce)
				timerC = timer.C
			} else {
				timer.Reset(defaultDebounce)
			}

		case <-timerC:
			cfg, err := Load(path)
			if err != nil {
				// Keep running on the previous config rather than
				// crashing a live service on a bad edit.
				slog.Error("config reload rejected", "path", path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", path)
			handler(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
