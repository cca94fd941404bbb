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
	"errors"
	"time"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
)

// Reader polls the frame segment on behalf of one consumer kind. It is
// used from a single render loop and is not safe for concurrent use.
type Reader struct {
	kind protocol.ConsumerKind
	o    options

	seg        *shm.Segment
	header     *protocol.Header
	attachErr  Reason
	nextAttach time.Time

	feederPID       uint32
	feederAlive     bool
	feederCheckedAt time.Time

	frameCount uint64
}

// NewReader returns a reader for consumers of the given kind. It attaches
// lazily on the first MaybeGet.
func NewReader(kind protocol.ConsumerKind, opts ...Option) *Reader {
	return &Reader{
		kind: kind,
		o:    buildOptions(opts),
	}
}

// Kind returns the consumer kind the reader filters for.
func (r *Reader) Kind() protocol.ConsumerKind {
	return r.kind
}

// FrameCount returns the number of valid frames returned so far.
func (r *Reader) FrameCount() uint64 {
	return r.frameCount
}

// MaybeGet returns the current frame. It never blocks on the producer.
func (r *Reader) MaybeGet() Frame {
	f := r.get()
	if f.Valid() {
		r.frameCount++
		if r.o.registry != nil {
			r.o.registry.Set(r.kind)
		}
	}
	return f
}

// get is MaybeGet without liveness reporting.
func (r *Reader) get() Frame {
	if !r.attach() {
		return emptyFrame(r.attachErr)
	}

	var f Frame
	if !r.header.Load(&f.Header, r.o.readRetries) {
		if logger.V(2) {
			logger.Infof("No consistent header after %d reads", r.o.readRetries)
		}
		return emptyFrame(ReasonTornRead)
	}

	if err := f.Validate(); err != nil {
		if logger.V(2) {
			logger.Infof("Rejecting header: %v", err)
		}
		switch {
		case errors.Is(err, protocol.ErrVersionMismatch):
			return emptyFrame(ReasonVersionMismatch)
		case errors.Is(err, protocol.ErrBadMagic):
			return emptyFrame(ReasonBadMagic)
		default:
			return emptyFrame(ReasonCorrupt)
		}
	}
	if !f.HaveFeeder() {
		return emptyFrame(ReasonNoFeeder)
	}
	if !r.checkFeeder(f.FeederPID()) {
		return emptyFrame(ReasonFeederGone)
	}
	if f.LayerCount() == 0 {
		return emptyFrame(ReasonNoLayers)
	}

	switch {
	case !f.Config().Target.Matches(r.kind):
		f.State = StateIncorrectKind
	case r.o.adapterLUID != 0 && f.AdapterLUID() != 0 && f.AdapterLUID() != r.o.adapterLUID:
		f.State = StateIncorrectGPU
	default:
		f.State = StateValid
	}
	return f
}

// attach maps the segment if it is not mapped yet, at most once per
// reattach interval.
func (r *Reader) attach() bool {
	if r.seg != nil {
		return true
	}
	now := r.o.now()
	if now.Before(r.nextAttach) {
		return false
	}

	seg, err := shm.OpenReadOnly(r.o.segmentName, protocol.HeaderSize)
	if err != nil {
		r.nextAttach = now.Add(r.o.reattachInterval)
		if errors.Is(err, shm.ErrSizeMismatch) {
			r.attachErr = ReasonSizeMismatch
		} else {
			r.attachErr = ReasonNoSegment
		}
		if logger.V(2) {
			logger.Infof("Attach to %s failed: %v", r.o.segmentName, err)
		}
		return false
	}
	r.seg = seg
	r.header = protocol.HeaderAt(seg)
	logger.Infof("Attached to %s as %v consumer", seg.Path, r.kind)
	return true
}

// checkFeeder reports whether the producer process still exists. The
// answer is cached per PID for the reattach interval.
func (r *Reader) checkFeeder(pid uint32) bool {
	now := r.o.now()
	if pid == r.feederPID && now.Sub(r.feederCheckedAt) < r.o.reattachInterval {
		return r.feederAlive
	}
	r.feederPID = pid
	r.feederAlive = processAlive(pid)
	r.feederCheckedAt = now
	if !r.feederAlive {
		logger.Warningf("Feeder pid %d exited without detaching", pid)
	}
	return r.feederAlive
}

// Close unmaps the segment. A later MaybeGet attaches again.
func (r *Reader) Close() error {
	if r.seg == nil {
		return nil
	}
	err := r.seg.Close()
	r.seg = nil
	r.header = nil
	r.nextAttach = time.Time{}
	return err
}
