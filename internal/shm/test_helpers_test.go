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
	"fmt"
	"strings"
	"testing"
	"time"
)

// uniqueSegmentName returns a segment name private to the running test and
// registers cleanup of the backing file.
func uniqueSegmentName(t *testing.T, baseName string) string {
	t.Helper()

	name := fmt.Sprintf("%s/test/%s-%s-%d", ProjectID, baseName,
		strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	RemoveSegment(name)
	t.Cleanup(func() { RemoveSegment(name) })
	return name
}

// createTestSegment creates a read-write segment and closes it at cleanup.
func createTestSegment(t *testing.T, baseName string, size int) *Segment {
	t.Helper()

	seg, err := CreateOrOpen(uniqueSegmentName(t, baseName), size)
	if err != nil {
		t.Fatalf("CreateOrOpen failed: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}
