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

package protocol

import (
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
)

// The header is guarded by a sequence lock instead of a cross-process
// mutex: the writer makes the sequence word odd, stores the body, then
// makes it even again. A reader that sees the same even value before and
// after copying the body has a consistent copy.

const (
	headerWords  = HeaderSize / 8
	sequenceWord = 0x10 / 8

	readMaxBackoff = 100 * time.Microsecond
)

// HeaderAt returns the header stored at the start of seg.
func HeaderAt(seg *shm.Segment) *Header {
	if seg.Size() < HeaderSize {
		return nil
	}
	return (*Header)(seg.Base())
}

func (h *Header) words() []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(h)), headerWords)
}

// Store publishes src into h. There must be only one writer.
//
// Readers never observe a partial store as consistent; src.sequence is
// ignored.
func (h *Header) Store(src *Header) {
	dst := h.words()
	words := src.words()

	seq := atomic.LoadUint64(&dst[sequenceWord]) | 1
	atomic.StoreUint64(&dst[sequenceWord], seq)
	for i := range dst {
		if i == sequenceWord {
			continue
		}
		atomic.StoreUint64(&dst[i], words[i])
	}
	atomic.StoreUint64(&dst[sequenceWord], seq+1)
}

// Load copies a consistent snapshot of h into dst, making at most attempts
// tries. It reports false if every attempt overlapped a write.
func (h *Header) Load(dst *Header, attempts int) bool {
	src := h.words()
	out := dst.words()

	for attempt := range attempts {
		readBackoff(attempt)

		before := atomic.LoadUint64(&src[sequenceWord])
		if before&1 == 1 {
			continue
		}
		for i := range src {
			out[i] = atomic.LoadUint64(&src[i])
		}
		if atomic.LoadUint64(&src[sequenceWord]) == before {
			out[sequenceWord] = before
			return true
		}
	}
	return false
}

// LoadGeneration returns the generation without copying the rest of the
// header. The value may belong to a write in progress.
func (h *Header) LoadGeneration() uint64 {
	return atomic.LoadUint64(&h.generation)
}

// readBackoff yields before retry attempts; the first attempt is immediate.
// It never sleeps longer than readMaxBackoff so a render thread is not held
// up by a writer.
func readBackoff(attempt int) {
	switch {
	case attempt == 0:
	case attempt < 4:
		runtime.Gosched()
	default:
		time.Sleep(min(time.Microsecond<<min(attempt-4, 7), readMaxBackoff))
	}
}
