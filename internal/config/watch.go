// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpwarden/mcpwarden/internal/log"
)

// watchDebounce coalesces editor write bursts into one reload.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the configuration when the file changes on disk.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onChange func(*Config)
}

// NewWatcher creates a watcher for the given config path. onChange is called
// with each successfully reloaded and validated configuration.
func NewWatcher(path string, logger *slog.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		onChange: onChange,
	}
}

// Run watches until the context is cancelled. Reload failures are logged and
// skipped; the previous configuration stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directory: editors replace files via rename, which
	// drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(watchDebounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", log.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration",
			slog.String("path", w.path), log.Error(err))
		return
	}
	w.logger.Info("configuration reloaded", slog.String("path", w.path))
	w.onChange(cfg)
}
