// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/tryme/internal/logging"
)

// DefaultDebounce coalesces the burst of events an atomic rename produces.
const DefaultDebounce = 200 * time.Millisecond

// =============================================================================
// FILE WATCHER
// =============================================================================

// FileWatcher calls OnChange when the file behind a FileStore key is
// rewritten by someone else. Writes made through the store itself are
// recognised by content hash and ignored.
type FileWatcher struct {
	store    *FileStore
	key      string
	target   string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	logger   *slog.Logger
}

// NewFileWatcher watches the store directory for changes to key. The parent
// directory is watched rather than the file, since atomic writes replace the
// inode on every save.
func NewFileWatcher(store *FileStore, key string, onChange func()) (*FileWatcher, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(store.Dir()); err != nil {
		w.Close()
		return nil, err
	}
	return &FileWatcher{
		store:    store,
		key:      key,
		target:   filepath.Clean(store.Path(key)),
		watcher:  w,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logging.Discard(),
	}, nil
}

// WithDebounce sets the quiet period before a change is reported.
func (fw *FileWatcher) WithDebounce(d time.Duration) *FileWatcher {
	fw.debounce = d
	return fw
}

// WithLogger sets the logger for watch errors.
func (fw *FileWatcher) WithLogger(l *slog.Logger) *FileWatcher {
	fw.logger = logging.OrDiscard(l)
	return fw
}

// Run processes events until ctx is cancelled or the watcher is closed.
func (fw *FileWatcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			changed, err := fw.store.ChangedExternally(fw.key)
			if err != nil {
				fw.logger.Warn("failed to check storage file", "path", fw.target, "error", err)
				continue
			}
			if changed {
				fw.logger.Debug("storage file changed externally", "path", fw.target)
				fw.onChange()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("storage watcher error", "error", err)
		}
	}
}

// Close stops watching and releases resources.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
