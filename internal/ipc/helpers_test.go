//go:build unix

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

package ipc

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
)

// uniqueFrameSegment returns a frame segment name private to the running
// test and removes the backing file at cleanup.
func uniqueFrameSegment(t *testing.T) string {
	t.Helper()

	name := fmt.Sprintf("%s/test/frames-%s-%d", shm.ProjectID,
		strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	t.Cleanup(func() { shm.RemoveSegment(name) })
	return name
}

// newTestWriter returns a valid writer on name, closed at cleanup.
func newTestWriter(t *testing.T, name string, opts ...Option) *Writer {
	t.Helper()

	w := NewWriter(append([]Option{WithSegmentName(name)}, opts...)...)
	if !w.Valid() {
		t.Fatalf("NewWriter(%q) is not valid", name)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

// newTestReader returns a reader that retries attaching on every poll.
func newTestReader(t *testing.T, name string, kind protocol.ConsumerKind, opts ...Option) *Reader {
	t.Helper()

	r := NewReader(kind, append([]Option{WithSegmentName(name), WithReattachInterval(0)}, opts...)...)
	t.Cleanup(func() { r.Close() })
	return r
}

// rawSegment maps name read-write so a test can scribble on the header.
func rawSegment(t *testing.T, name string, size int) *shm.Segment {
	t.Helper()

	seg, err := shm.CreateOrOpen(name, size)
	if err != nil {
		t.Fatalf("CreateOrOpen(%q) failed: %v", name, err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}
