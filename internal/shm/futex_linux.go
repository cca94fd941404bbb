//go:build linux

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
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex constants. The waiters live in other processes, so the
// process-private variants must not be used.
const (
	futexWait = 0 // FUTEX_WAIT
	futexWake = 1 // FUTEX_WAKE
)

// FutexWait waits on addr until the value changes from val, another process
// calls FutexWake on the same word, or timeout elapses. A timeout <= 0
// waits indefinitely. Returns ErrFutexTimeout if the wait timed out.
//
// Spurious wake-ups are possible; callers must re-check their condition.
func FutexWait(addr *uint32, val uint32, timeout time.Duration) error {
	// Re-check before entering the syscall so a wake between the caller's
	// snapshot and here is not lost.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var tsp uintptr
	var ts unix.Timespec
	if timeout > 0 {
		ts = unix.NsecToTimespec(timeout.Nanoseconds())
		tsp = uintptr(unsafe.Pointer(&ts))
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wait on
		futexWait,                     // futex_op
		uintptr(val),                  // val - expected value
		tsp,                           // timeout - relative, NULL for infinite
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		// Woken, value already changed, or interrupted by a signal.
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// FutexWake wakes up to n waiters on addr in any process.
// Returns the number of waiters actually woken.
func FutexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wake on
		futexWake,                     // futex_op
		uintptr(n),                    // val - number of waiters to wake
		0,                             // timeout - unused for wake
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
