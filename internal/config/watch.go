// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/fitcore/fitcore/internal/log"
)

// Watch reloads the config file on write events and invokes onChange with
// the new config and a diff against the previous one. It runs until ctx is
// canceled. Reload errors are logged and skipped; a bad edit never brings
// down a running session.
func Watch(ctx context.Context, path string, onChange func(FileConfig, ChangeSummary)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	current, err := Load(path)
	if err != nil {
		return err
	}

	logger := log.WithComponent("config")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := Load(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("config reload failed, keeping previous config")
				continue
			}
			summary := Diff(current, next)
			if len(summary.ChangedFields) == 0 {
				continue
			}
			logger.Info().Strs("changed", summary.ChangedFields).Msg("config reloaded")
			current = next
			onChange(next, summary)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
