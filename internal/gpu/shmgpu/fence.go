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

package shmgpu

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
)

// errReadOnlyFence is returned by Signal on an imported fence.
var errReadOnlyFence = errors.New("shmgpu: fence is opened read-only")

// fenceWords is the fence segment layout.
type fenceWords struct {
	value uint64   // 0x00: last signalled value
	seq   uint32   // 0x08: futex word, incremented after every signal
	_     uint32   // 0x0C
	_     [48]byte // 0x10-0x3F: reserved
}

const fenceSegmentSize = 0x40

// waitSlice bounds a single futex sleep so context cancellation is noticed.
const waitSlice = 5 * time.Millisecond

// fence implements gpu.Fence over fenceWords that live either in a shared
// segment or in process memory.
type fence struct {
	mu       sync.Mutex
	seg      *shm.Segment // nil for local fences
	w        *fenceWords
	handle   protocol.Handle
	readOnly bool
	owner    bool // remove the segment on Close
	closed   atomic.Bool
}

func newLocalFence() *fence {
	return &fence{w: new(fenceWords)}
}

func createSharedFence() (*fence, error) {
	h := newHandle()
	name := resourceName(h)
	shm.RemoveSegment(name)

	seg, err := shm.CreateOrOpen(name, fenceSegmentSize)
	if err != nil {
		return nil, fmt.Errorf("shmgpu: creating fence: %w", err)
	}
	if logger.V(2) {
		logger.Infof("Created fence %#x", uint64(h))
	}
	return &fence{
		seg:    seg,
		w:      (*fenceWords)(seg.Base()),
		handle: h,
		owner:  true,
	}, nil
}

func openFence(h protocol.Handle) (*fence, error) {
	if !h.Valid() {
		return nil, gpu.ErrInvalidHandle
	}
	seg, err := shm.OpenReadOnly(resourceName(h), fenceSegmentSize)
	if errors.Is(err, shm.ErrNotExist) || errors.Is(err, shm.ErrSizeMismatch) {
		return nil, fmt.Errorf("fence %#x: %w", uint64(h), gpu.ErrInvalidHandle)
	}
	if err != nil {
		return nil, fmt.Errorf("shmgpu: opening fence %#x: %w", uint64(h), err)
	}
	return &fence{
		seg:      seg,
		w:        (*fenceWords)(seg.Base()),
		handle:   h,
		readOnly: true,
	}, nil
}

func (f *fence) Handle() protocol.Handle {
	return f.handle
}

func (f *fence) Value() uint64 {
	if f.closed.Load() {
		return 0
	}
	return atomic.LoadUint64(&f.w.value)
}

func (f *fence) Signal(value uint64) error {
	if f.closed.Load() {
		return gpu.ErrReleased
	}
	if f.readOnly {
		return errReadOnlyFence
	}
	for {
		cur := atomic.LoadUint64(&f.w.value)
		if value <= cur {
			return nil
		}
		if atomic.CompareAndSwapUint64(&f.w.value, cur, value) {
			break
		}
	}
	atomic.AddUint32(&f.w.seq, 1)
	if _, err := shm.FutexWake(&f.w.seq, math.MaxInt32); err != nil {
		return fmt.Errorf("shmgpu: waking fence waiters: %w", err)
	}
	return nil
}

func (f *fence) Wait(ctx context.Context, value uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if f.closed.Load() {
			return gpu.ErrReleased
		}
		// Snapshot the futex word before the value so a signal landing in
		// between makes FutexWait return immediately.
		seq := atomic.LoadUint32(&f.w.seq)
		if atomic.LoadUint64(&f.w.value) >= value {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("fence %#x at %d, want %d: %w", uint64(f.handle), atomic.LoadUint64(&f.w.value), value, gpu.ErrFenceTimeout)
		}
		if err := shm.FutexWait(&f.w.seq, seq, min(remaining, waitSlice)); err != nil && !errors.Is(err, shm.ErrFutexTimeout) {
			return fmt.Errorf("shmgpu: fence wait: %w", err)
		}
	}
}

func (f *fence) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed.Swap(true) || f.seg == nil {
		return nil
	}
	err := f.seg.Close()
	if f.owner {
		if rmErr := shm.RemoveSegment(resourceName(f.handle)); rmErr != nil && !errors.Is(rmErr, shm.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	f.seg = nil
	return err
}

// SharedFence is a producer-owned fence other processes can open.
type SharedFence struct {
	*fence
}
