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

// Package shmgpu is the canonical gpu.Backend. Textures and fences live in
// their own shared-memory segments and a handle is simply the key their
// segment name is derived from, so handles can be passed between processes
// through the frame header without any duplication step.
//
// Fences are a 64-bit value plus a futex word that is bumped on every
// signal, letting waiters in other processes sleep instead of spinning.
package shmgpu

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
	"google.golang.org/grpc/grpclog"
)

var logger = grpclog.Component("kneeboard-gpu")

// handleCounter is process-wide so several devices in one process never
// hand out the same handle.
var handleCounter atomic.Uint32

// newHandle returns a handle unique across live processes: the creating
// PID in the high word and a per-process counter in the low word.
func newHandle() protocol.Handle {
	return protocol.Handle(uint64(uint32(os.Getpid()))<<32 | uint64(handleCounter.Add(1)))
}

// handleOwner returns the PID of the process that created h.
func handleOwner(h protocol.Handle) uint32 {
	return uint32(h >> 32)
}

// resourceName returns the segment name backing h.
func resourceName(h protocol.Handle) string {
	return fmt.Sprintf("%s/%d/gpu-%016x", shm.ProjectID, protocol.Version, uint64(h))
}
