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

// Package ipc is the frame hand-off API. A Writer in the producer
// publishes header snapshots into the shared frame segment; a Reader in
// each consumer polls it with MaybeGet, and a CachedReader adds fence
// synchronization and texture import on top.
//
// Nothing here reports "no producer", "wrong version" or "torn read" as an
// error. Those are ordinary states of a Frame and the caller simply shows
// nothing for that poll.
package ipc

import (
	"time"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/consumers"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/envconfig"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"google.golang.org/grpc/grpclog"
)

var logger = grpclog.Component("kneeboard-ipc")

//go:generate go tool stringer -type=FrameState -trimprefix=State
//go:generate go tool stringer -type=Reason -trimprefix=Reason

// FrameState is the outcome of a poll.
type FrameState uint8

const (
	// StateEmpty means there is nothing to show; Reason says why.
	StateEmpty FrameState = iota
	// StateIncorrectKind means the producer targeted other consumer kinds.
	StateIncorrectKind
	// StateIncorrectGPU means the producer renders on another adapter.
	StateIncorrectGPU
	// StateValid means the frame may be displayed.
	StateValid
)

// Reason explains a StateEmpty frame.
type Reason uint8

const (
	ReasonNone            Reason = iota
	ReasonNoSegment              // no producer has created the segment
	ReasonSizeMismatch           // segment exists with another layout
	ReasonVersionMismatch        // written by another protocol version
	ReasonBadMagic               // never written by a producer
	ReasonCorrupt                // header fails validation
	ReasonTornRead               // every read overlapped a write
	ReasonNoFeeder               // producer detached
	ReasonFeederGone             // producer process no longer exists
	ReasonNoLayers               // producer published zero layers
	ReasonFenceTimeout           // producer fence was not signalled in time
	ReasonCancelled              // caller's context ended
)

// Frame is a validated copy of the header. Layer data is only present
// when State is not StateEmpty.
type Frame struct {
	State  FrameState
	Reason Reason
	protocol.Header
}

// Valid reports whether the frame may be displayed.
func (f Frame) Valid() bool {
	return f.State == StateValid
}

func emptyFrame(reason Reason) Frame {
	return Frame{State: StateEmpty, Reason: reason}
}

// Option configures a Writer, Reader or CachedReader.
type Option func(*options)

type options struct {
	segmentName      string
	readRetries      int
	fenceTimeout     time.Duration
	reattachInterval time.Duration
	registry         *consumers.Registry
	adapterLUID      uint64
	now              func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{
		segmentName:      protocol.SegmentName(),
		readRetries:      envconfig.ReadRetries,
		fenceTimeout:     envconfig.FenceTimeout,
		reattachInterval: envconfig.ReattachInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSegmentName overrides the frame segment name.
func WithSegmentName(name string) Option {
	return func(o *options) { o.segmentName = name }
}

// WithReadRetries sets how many sequence-lock reads a poll attempts.
// Values below 1 are treated as 1.
func WithReadRetries(n int) Option {
	return func(o *options) { o.readRetries = max(n, 1) }
}

// WithFenceTimeout bounds producer fence waits.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) { o.fenceTimeout = d }
}

// WithReattachInterval sets the minimum delay between attempts to open a
// missing segment.
func WithReattachInterval(d time.Duration) Option {
	return func(o *options) { o.reattachInterval = d }
}

// WithRegistry makes consumers record their liveness on every displayed
// frame.
func WithRegistry(r *consumers.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithAdapterLUID sets the GPU adapter. A Writer publishes it; a Reader
// rejects frames rendered on a different adapter.
func WithAdapterLUID(luid uint64) Option {
	return func(o *options) { o.adapterLUID = luid }
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
