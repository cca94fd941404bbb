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

// Package consumers implements the ActiveConsumers registry: a small shared
// segment, independent of frame content, in which every consumer kind
// records when it last displayed a frame. The producer reads it to decide
// which kind of content is worth rendering.
//
// Each field has exactly one writer kind, so fields are stored with
// independent atomic word writes and no cross-field locking.
package consumers

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
	"google.golang.org/grpc/grpclog"
)

var logger = grpclog.Component("kneeboard-consumers")

// Kind identifies a consumer kind.
type Kind = protocol.ConsumerKind

const (
	OpenVR      = protocol.ConsumerKindOpenVR
	OpenXR      = protocol.ConsumerKindOpenXR
	OculusD3D11 = protocol.ConsumerKindOculusD3D11
	OculusD3D12 = protocol.ConsumerKindOculusD3D12
	NonVRD3D11  = protocol.ConsumerKindNonVRD3D11
	Viewer      = protocol.ConsumerKindViewer
)

// StaleAfter is how old a timestamp may be before the consumer is treated
// as gone.
const StaleAfter = 2 * time.Second

// RecordSize is the size of the ActiveConsumers segment in bytes.
const RecordSize = 0x48

const numKinds = 6

// Record is the ActiveConsumers layout. Timestamps are Unix nanoseconds,
// zero meaning never seen.
type Record struct {
	timestamps     [numKinds]int64 // 0x00: indexed by Kind-1
	elevatedPID    uint32          // 0x30
	_              uint32          // 0x34
	nonVRPixelSize uint64          // 0x38: width<<32 | height
	activeViewID   uint64          // 0x40
}

// SegmentName returns the name of the ActiveConsumers segment.
func SegmentName() string {
	return shm.SubSegmentName(shm.ProjectID, protocol.Version, "ActiveConsumers", unsafe.Sizeof(Record{}))
}

// LastSeen returns when kind last reported, or the zero time.
func (r Record) LastSeen(kind Kind) time.Time {
	if !kind.Valid() {
		return time.Time{}
	}
	return fromNanos(r.timestamps[kind-1])
}

// Any returns the most recent timestamp of any kind.
func (r Record) Any() time.Time {
	return r.latest(func(Kind) bool { return true })
}

// AnyVR returns the most recent timestamp of any VR kind.
func (r Record) AnyVR() time.Time {
	return r.latest(Kind.IsVR)
}

// AnyVRExcept returns the most recent timestamp of any VR kind other than
// except. A VR backend uses it to detect another VR backend competing for
// the same headset.
func (r Record) AnyVRExcept(except Kind) time.Time {
	return r.latest(func(k Kind) bool { return k.IsVR() && k != except })
}

// NotVR returns the most recent timestamp of the non-VR hook or the viewer.
func (r Record) NotVR() time.Time {
	return r.latest(func(k Kind) bool { return k == NonVRD3D11 || k == Viewer })
}

func (r Record) latest(include func(Kind) bool) time.Time {
	var ns int64
	for _, k := range protocol.AllConsumerKinds {
		if include(k) && r.timestamps[k-1] > ns {
			ns = r.timestamps[k-1]
		}
	}
	return fromNanos(ns)
}

// ElevatedConsumerPID returns the PID of a consumer running elevated, or 0.
func (r Record) ElevatedConsumerPID() uint32 {
	return r.elevatedPID
}

// NonVRPixelSize returns the size the non-VR hook is drawing at.
func (r Record) NonVRPixelSize() protocol.PixelSize {
	return protocol.PixelSize{
		Width:  uint32(r.nonVRPixelSize >> 32),
		Height: uint32(r.nonVRPixelSize),
	}
}

// ActiveViewID returns the in-game view the non-VR hook is showing.
func (r Record) ActiveViewID() uint64 {
	return r.activeViewID
}

// Fresh reports whether ts is a timestamp within StaleAfter of now.
func Fresh(ts, now time.Time) bool {
	return !ts.IsZero() && now.Sub(ts) < StaleAfter
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Registry reads and writes an ActiveConsumers record. It is safe for
// concurrent use, including from other processes mapping the same segment.
type Registry struct {
	seg *shm.Segment // nil for in-memory registries
	rec *Record
	now func() time.Time
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	name string
	now  func() time.Time
}

// WithSegmentName overrides the segment the registry maps.
func WithSegmentName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock overrides the source of "now" used by Set.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{name: SegmentName(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open maps the shared ActiveConsumers segment, creating it zero-filled if
// no other process has yet.
func Open(opts ...Option) (*Registry, error) {
	o := buildOptions(opts)
	seg, err := shm.CreateOrOpen(o.name, RecordSize)
	if err != nil {
		return nil, fmt.Errorf("consumers: %w", err)
	}
	if seg.Created {
		logger.Infof("Created ActiveConsumers segment %s", seg.Path)
	}
	return &Registry{
		seg: seg,
		rec: (*Record)(seg.Base()),
		now: o.now,
	}, nil
}

// NewInMemory returns a registry backed by process memory.
func NewInMemory(opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		rec: new(Record),
		now: o.now,
	}
}

// Close unmaps the segment. The segment itself persists for other users.
func (r *Registry) Close() error {
	if r.seg == nil {
		return nil
	}
	err := r.seg.Close()
	r.seg = nil
	return err
}

// Set records that kind displayed a frame now.
func (r *Registry) Set(kind Kind) {
	if !kind.Valid() {
		logger.Warningf("Ignoring Set for invalid consumer kind %v", kind)
		return
	}
	atomic.StoreInt64(&r.rec.timestamps[kind-1], r.now().UnixNano())
}

// Get returns a copy of the record. Fields are loaded independently.
func (r *Registry) Get() Record {
	var out Record
	for i := range out.timestamps {
		out.timestamps[i] = atomic.LoadInt64(&r.rec.timestamps[i])
	}
	out.elevatedPID = atomic.LoadUint32(&r.rec.elevatedPID)
	out.nonVRPixelSize = atomic.LoadUint64(&r.rec.nonVRPixelSize)
	out.activeViewID = atomic.LoadUint64(&r.rec.activeViewID)
	return out
}

// Clear forgets every consumer. The producer calls it when the game
// changes so consumers from the previous game do not count as active.
func (r *Registry) Clear() {
	for i := range r.rec.timestamps {
		atomic.StoreInt64(&r.rec.timestamps[i], 0)
	}
	atomic.StoreUint32(&r.rec.elevatedPID, 0)
	atomic.StoreUint64(&r.rec.nonVRPixelSize, 0)
	atomic.StoreUint64(&r.rec.activeViewID, 0)
}

// SetElevatedConsumerPID records that pid is a consumer running with
// elevated privileges.
func (r *Registry) SetElevatedConsumerPID(pid uint32) {
	atomic.StoreUint32(&r.rec.elevatedPID, pid)
}

// SetNonVRPixelSize records the size the non-VR hook draws at.
func (r *Registry) SetNonVRPixelSize(size protocol.PixelSize) {
	atomic.StoreUint64(&r.rec.nonVRPixelSize, uint64(size.Width)<<32|uint64(size.Height))
}

// SetActiveViewID records the in-game view the non-VR hook is showing.
func (r *Registry) SetActiveViewID(id uint64) {
	atomic.StoreUint64(&r.rec.activeViewID, id)
}
