/*
 *
 * Copyright 2026 OpenKneeboard authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForSegment blocks until the named segment exists or ctx is done.
//
// It watches the segment directory for the file to appear and, if the
// watcher cannot be set up, falls back to polling every interval.
func WaitForSegment(ctx context.Context, name string, interval time.Duration) error {
	if SegmentExists(name) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warningf("fsnotify unavailable, polling for %s: %v", name, err)
		return pollForSegment(ctx, name, interval)
	}
	defer watcher.Close()

	path := SegmentPath(name)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warningf("Cannot watch %s, polling for %s: %v", filepath.Dir(path), name, err)
		return pollForSegment(ctx, name, interval)
	}

	// The file may have appeared between the first check and Add.
	if SegmentExists(name) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return pollForSegment(ctx, name, interval)
			}
			if ev.Name == path && ev.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return pollForSegment(ctx, name, interval)
			}
			logger.Warningf("Watching for %s: %v", name, err)
		}
	}
}

func pollForSegment(ctx context.Context, name string, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if SegmentExists(name) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
