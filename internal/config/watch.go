// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package config

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/cider/zeromqtt-bridge/internal/blog"
)

// WatchFile watches path for out-of-band edits and invokes onChange with
// the newly parsed Config. It is used by the CLI's local/dev mode to report
// hand edits of the YAML process config. That Config holds the listen,
// metrics, store and supervisor settings only; endpoints and mappings come
// from the store, not from this file.
//
// WatchFile runs until stop is closed.
func WatchFile(path string, stop <-chan struct{}, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				blog.Warnf("config: failed to re-read %s after change: %v", path, err)
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				blog.Warnf("config: invalid config in %s, keeping previous: %v", path, err)
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			blog.Warnf("config: watcher error: %v", err)
		case <-stop:
			return nil
		}
	}
}
