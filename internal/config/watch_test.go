// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchFileNotifiesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  address: \":8080\"\n"), 0644))

	changes := make(chan *Config, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		_ = WatchFile(path, stop, func(c *Config) {
			select {
			case changes <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before the write.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  address: \":9090\"\n"), 0644))

	select {
	case c := <-changes:
		require.Equal(t, ":9090", c.Listen.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config change notification")
	}
}
