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
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/consumers"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu/shmgpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/texcache"
)

var cachedDesc = gpu.TextureDesc{Width: 8, Height: 4, Format: gpu.FormatBGRA8}

// testProducer owns the producer-side resources of one session.
type testProducer struct {
	t      *testing.T
	writer *Writer
	fence  *shmgpu.SharedFence
	dev    *shmgpu.Device
}

func newTestProducer(t *testing.T, name string) *testProducer {
	t.Helper()

	dev := shmgpu.NewDevice()
	fence, err := dev.CreateSharedFence()
	if err != nil {
		t.Fatalf("CreateSharedFence failed: %v", err)
	}
	t.Cleanup(func() { fence.Close() })

	w := newTestWriter(t, name)
	w.SetFenceHandle(fence.Handle())
	return &testProducer{t: t, writer: w, fence: fence, dev: dev}
}

func (p *testProducer) texture(fill byte) *shmgpu.SharedTexture {
	p.t.Helper()

	tex, err := p.dev.CreateSharedTexture(cachedDesc)
	if err != nil {
		p.t.Fatalf("CreateSharedTexture failed: %v", err)
	}
	p.t.Cleanup(func() { tex.Release() })
	fillPixels(tex.Pixels(), fill)
	return tex
}

// submit publishes one layer showing tex at the given fence value.
func (p *testProducer) submit(tex protocol.Handle, slot uint8, fenceValue uint64) {
	p.t.Helper()

	layers := []protocol.LayerConfig{{LayerID: 1, Texture: tex, Slot: slot, FenceValue: fenceValue}}
	if err := p.writer.SubmitFrame(protocol.DefaultConfig(), layers); err != nil {
		p.t.Fatalf("SubmitFrame failed: %v", err)
	}
}

func fillPixels(px []byte, v byte) {
	for i := range px {
		px[i] = v
	}
}

func newTestCachedReader(t *testing.T, name string, model gpu.Model, opts ...Option) *CachedReader {
	t.Helper()

	opts = append([]Option{WithSegmentName(name), WithReattachInterval(0)}, opts...)
	c := NewCachedReader(protocol.ConsumerKindViewer, shmgpu.New(model), opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachedReaderWaitsForEveryFenceValue(t *testing.T) {
	name := uniqueFrameSegment(t)
	p := newTestProducer(t, name)
	c := newTestCachedReader(t, name, gpu.ImportModel)
	ctx := context.Background()

	tex := p.texture(0x11)
	p.fence.Signal(5)
	p.submit(tex.Handle(), 0, 5)

	snap := c.MaybeGet(ctx)
	if !snap.Valid() || len(snap.Textures) != 1 {
		t.Fatalf("MaybeGet() = %v/%v with %d textures, want Valid with 1", snap.State, snap.Reason, len(snap.Textures))
	}
	if got := snap.Textures[0].Resource.Pixels()[0]; got != 0x11 {
		t.Errorf("first texel = %#x, want 0x11", got)
	}

	// Same texture, new content: the import is reused but the wait is not.
	fillPixels(tex.Pixels(), 0x22)
	p.fence.Signal(6)
	p.submit(tex.Handle(), 0, 6)

	snap = c.MaybeGet(ctx)
	if !snap.Valid() {
		t.Fatalf("MaybeGet() = %v/%v, want Valid", snap.State, snap.Reason)
	}
	if got := snap.Textures[0].Resource.Pixels()[0]; got != 0x22 {
		t.Errorf("first texel = %#x, want 0x22", got)
	}

	// Polling the same generation again touches nothing.
	c.MaybeGet(ctx)

	want := texcache.Stats{Imports: 1, FenceWaits: 2}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestCachedReaderFenceTimeout(t *testing.T) {
	name := uniqueFrameSegment(t)
	p := newTestProducer(t, name)
	c := newTestCachedReader(t, name, gpu.ImportModel, WithFenceTimeout(10*time.Millisecond))
	ctx := context.Background()

	tex := p.texture(0x33)
	p.submit(tex.Handle(), 1, 7)

	snap := c.MaybeGet(ctx)
	if snap.State != StateEmpty || snap.Reason != ReasonFenceTimeout {
		t.Fatalf("MaybeGet() = %v/%v, want Empty/FenceTimeout", snap.State, snap.Reason)
	}
	if len(snap.Textures) != 0 || snap.LayerCount() != 0 {
		t.Errorf("timed out snapshot exposes content")
	}
	if got := c.Stats(); got.FenceTimeouts != 1 || got.Releases != 1 {
		t.Errorf("Stats() = %+v, want one timeout and one release", got)
	}

	// The producer catches up and publishes a new frame.
	p.fence.Signal(8)
	p.submit(tex.Handle(), 1, 8)
	snap = c.MaybeGet(ctx)
	if !snap.Valid() || len(snap.Textures) != 1 {
		t.Fatalf("MaybeGet() of the next frame = %v/%v, want Valid with 1 texture", snap.State, snap.Reason)
	}
	if got := c.Stats().Imports; got != 2 {
		t.Errorf("Imports = %d, want 2", got)
	}
}

func TestCachedReaderDoesNotRewaitTimedOutFrame(t *testing.T) {
	name := uniqueFrameSegment(t)
	p := newTestProducer(t, name)
	c := newTestCachedReader(t, name, gpu.ImportModel, WithFenceTimeout(20*time.Millisecond))
	ctx := context.Background()

	tex := p.texture(0x99)
	p.submit(tex.Handle(), 0, 9)

	start := time.Now()
	for i := range 10 {
		snap := c.MaybeGet(ctx)
		if snap.State != StateEmpty || snap.Reason != ReasonFenceTimeout {
			t.Fatalf("poll %d: MaybeGet() = %v/%v, want Empty/FenceTimeout", i, snap.State, snap.Reason)
		}
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("10 polls of a timed out frame took %v, want about one fence timeout", elapsed)
	}
	want := texcache.Stats{Imports: 1, Releases: 1, FenceWaits: 1, FenceTimeouts: 1}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}

	// Signalling late does not revive the frame that timed out.
	p.fence.Signal(9)
	if snap := c.MaybeGet(ctx); snap.Reason != ReasonFenceTimeout {
		t.Errorf("MaybeGet() after late signal = %v/%v, want Empty/FenceTimeout", snap.State, snap.Reason)
	}

	p.submit(tex.Handle(), 0, 9)
	if snap := c.MaybeGet(ctx); !snap.Valid() {
		t.Errorf("MaybeGet() of the next frame = %v/%v, want Valid", snap.State, snap.Reason)
	}
	if got := c.Stats().FenceWaits; got != 2 {
		t.Errorf("FenceWaits = %d, want 2", got)
	}
}

func TestCachedReaderCancelled(t *testing.T) {
	name := uniqueFrameSegment(t)
	p := newTestProducer(t, name)
	c := newTestCachedReader(t, name, gpu.ImportModel, WithFenceTimeout(time.Minute))

	tex := p.texture(0)
	p.submit(tex.Handle(), 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if snap := c.MaybeGet(ctx); snap.State != StateEmpty || snap.Reason != ReasonCancelled {
		t.Errorf("MaybeGet() = %v/%v, want Empty/Cancelled", snap.State, snap.Reason)
	}
}

func TestCachedReaderSessionChange(t *testing.T) {
	name := uniqueFrameSegment(t)
	ctx := context.Background()

	first := newTestProducer(t, name)
	c := newTestCachedReader(t, name, gpu.ImportModel)
	tex := first.texture(0x44)
	first.fence.Signal(1)
	first.submit(tex.Handle(), 0, 1)

	snap := c.MaybeGet(ctx)
	if !snap.Valid() {
		t.Fatalf("MaybeGet() = %v/%v, want Valid", snap.State, snap.Reason)
	}
	firstSession := snap.SessionID()
	first.writer.Close()

	second := newTestProducer(t, name)
	tex = second.texture(0x55)
	second.fence.Signal(1)
	second.submit(tex.Handle(), 0, 1)

	snap = c.MaybeGet(ctx)
	if !snap.Valid() {
		t.Fatalf("MaybeGet() after restart = %v/%v, want Valid", snap.State, snap.Reason)
	}
	if snap.SessionID() == firstSession {
		t.Errorf("snapshot still from the first session")
	}
	if got := snap.Textures[0].Resource.Pixels()[0]; got != 0x55 {
		t.Errorf("first texel = %#x, want 0x55", got)
	}
	if got := c.Stats(); got.Imports != 2 || got.Releases != 1 {
		t.Errorf("Stats() = %+v, want 2 imports and 1 release", got)
	}
}

func TestCachedReaderCopyModel(t *testing.T) {
	name := uniqueFrameSegment(t)
	p := newTestProducer(t, name)
	c := newTestCachedReader(t, name, gpu.CopyModel)
	ctx := context.Background()

	tex := p.texture(0x66)
	p.fence.Signal(1)
	p.submit(tex.Handle(), 2, 1)

	snap := c.MaybeGet(ctx)
	if !snap.Valid() || len(snap.Textures) != 1 {
		t.Fatalf("MaybeGet() = %v/%v, want Valid with 1 texture", snap.State, snap.Reason)
	}
	local := snap.Textures[0].Resource

	// The producer reuses the slot; the consumer's copy is unaffected
	// until the next frame.
	fillPixels(tex.Pixels(), 0x77)
	if got := local.Pixels()[0]; got != 0x66 {
		t.Errorf("copied texel = %#x, want 0x66", got)
	}
	if got := c.Stats().Copies; got != 1 {
		t.Errorf("Copies = %d, want 1", got)
	}
}

func TestCachedReaderSkipsMissingTextures(t *testing.T) {
	name := uniqueFrameSegment(t)
	p := newTestProducer(t, name)
	c := newTestCachedReader(t, name, gpu.ImportModel)

	tex := p.texture(0x88)
	p.fence.Signal(1)
	missing := protocol.Handle(uint64(os.Getpid())<<32 | 0xFFFFFFF0)
	layers := []protocol.LayerConfig{
		{LayerID: 1},
		{LayerID: 2, Texture: missing, FenceValue: 1},
		{LayerID: 3, Texture: tex.Handle(), Slot: 1, FenceValue: 1},
	}
	if err := p.writer.SubmitFrame(protocol.DefaultConfig(), layers); err != nil {
		t.Fatalf("SubmitFrame failed: %v", err)
	}

	snap := c.MaybeGet(context.Background())
	if !snap.Valid() {
		t.Fatalf("MaybeGet() = %v/%v, want Valid", snap.State, snap.Reason)
	}
	if len(snap.Textures) != 1 || snap.Textures[0].Index != 2 || snap.Textures[0].LayerID != 3 {
		t.Errorf("Textures = %+v, want only layer index 2", snap.Textures)
	}
	if got := c.Stats().ImportFailures; got != 1 {
		t.Errorf("ImportFailures = %d, want 1", got)
	}

	// The same frame is polled again: the failed import is retried and
	// the working layer is not imported twice.
	snap = c.MaybeGet(context.Background())
	if !snap.Valid() || len(snap.Textures) != 1 {
		t.Fatalf("second MaybeGet() = %v/%v with %d textures, want Valid with 1", snap.State, snap.Reason, len(snap.Textures))
	}
	if got := c.Stats(); got.ImportFailures != 2 || got.Imports != 1 {
		t.Errorf("Stats() = %+v, want 2 import failures and 1 import", got)
	}
}

func TestCachedReaderReportsLiveness(t *testing.T) {
	name := uniqueFrameSegment(t)
	reg := consumers.NewInMemory()
	c := newTestCachedReader(t, name, gpu.ImportModel, WithRegistry(reg), WithFenceTimeout(5*time.Millisecond))
	ctx := context.Background()

	p := newTestProducer(t, name)
	tex := p.texture(0)
	p.submit(tex.Handle(), 0, 1)

	c.MaybeGet(ctx)
	if !reg.Get().LastSeen(protocol.ConsumerKindViewer).IsZero() {
		t.Errorf("liveness reported while the fence never signalled")
	}

	p.fence.Signal(1)
	p.submit(tex.Handle(), 0, 1)
	if snap := c.MaybeGet(ctx); !snap.Valid() {
		t.Fatalf("MaybeGet() = %v/%v, want Valid", snap.State, snap.Reason)
	}
	if reg.Get().LastSeen(protocol.ConsumerKindViewer).IsZero() {
		t.Errorf("liveness not reported after a valid snapshot")
	}
}
