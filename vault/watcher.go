// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keywarden/keywarden/internal/logging"
)

const (
	// watchDebounce coalesces the event bursts editors and atomic renames
	// produce into one reaction.
	watchDebounce = 500 * time.Millisecond

	// selfWriteGrace is how long after our own atomic write we attribute
	// store-file events to ourselves.
	selfWriteGrace = 2 * time.Second
)

// WatchStore watches the store file for external modification and locks the
// vault when one is detected, forcing the next access to re-read and
// re-verify the file. Events caused by the vault's own writes are ignored.
// The watcher runs until StopWatch or Close.
func (v *Vault) WatchStore() error {
	v.watchMu.Lock()
	defer v.watchMu.Unlock()
	if v.watchStop != nil {
		return fmt.Errorf("store watcher already running")
	}

	// Watch the directory, not the file: atomic renames replace the inode
	// and a file watch would silently die after the first one.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create store watcher: %w", err)
	}
	if err := watcher.Add(v.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch store directory: %w", err)
	}

	done := make(chan struct{})
	go v.watchLoop(watcher, done)

	v.watchStop = func() {
		watcher.Close()
		<-done
	}
	logging.Logger.Debug("store watcher started", "dir", v.dir)
	return nil
}

// StopWatch stops the store watcher if running.
func (v *Vault) StopWatch() {
	v.watchMu.Lock()
	stop := v.watchStop
	v.watchStop = nil
	v.watchMu.Unlock()
	if stop != nil {
		stop()
	}
}

func (v *Vault) watchLoop(watcher *fsnotify.Watcher, done chan<- struct{}) {
	defer close(done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != storeFileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(watchDebounce, v.storeChanged)
			} else {
				debounce.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Logger.Warn("store watcher error", "error", err)
		}
	}
}

// storeChanged runs after the debounce window. Our own writes within the
// grace period are expected; anything else is an external modification and
// the safe reaction is to drop the in-memory state.
func (v *Vault) storeChanged() {
	since := time.Since(time.Unix(0, v.lastSelfWrite.Load()))
	if since < selfWriteGrace {
		return
	}
	logging.Logger.Warn("store file modified externally, locking", "age", since.Round(time.Millisecond))
	v.Lock()
}
