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

package texcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
)

const (
	h1 protocol.Handle = 0x100000001
	h2 protocol.Handle = 0x100000002

	fenceA protocol.Handle = 0x1000000F0
	fenceB protocol.Handle = 0x1000000F1
)

var fakeDesc = gpu.TextureDesc{Width: 2, Height: 2, Format: gpu.FormatBGRA8}

type fakeTexture struct {
	handle   protocol.Handle
	pixels   []byte
	released bool
}

func (t *fakeTexture) Desc() gpu.TextureDesc { return fakeDesc }
func (t *fakeTexture) Pixels() []byte        { return t.pixels }
func (t *fakeTexture) Release() error {
	if t.released {
		return fmt.Errorf("texture %#x released twice", uint64(t.handle))
	}
	t.released = true
	return nil
}

type fakeFence struct {
	value    uint64
	waits    []uint64
	closed   bool
	closeErr error
}

func (f *fakeFence) Wait(ctx context.Context, value uint64, timeout time.Duration) error {
	f.waits = append(f.waits, value)
	if f.value < value {
		return fmt.Errorf("fake fence at %d: %w", f.value, gpu.ErrFenceTimeout)
	}
	return nil
}

func (f *fakeFence) Signal(value uint64) error {
	f.value = max(f.value, value)
	return nil
}

func (f *fakeFence) Value() uint64 { return f.value }
func (f *fakeFence) Close() error {
	f.closed = true
	return f.closeErr
}

// countingBackend records every call the cache makes.
type countingBackend struct {
	model    gpu.Model
	imported []*fakeTexture
	targets  []*fakeTexture
	fences   map[protocol.Handle]*fakeFence
	opened   []protocol.Handle
	local    *fakeFence
	failing  map[protocol.Handle]bool
	copies   int
}

func newCountingBackend(model gpu.Model) *countingBackend {
	return &countingBackend{
		model: model,
		fences: map[protocol.Handle]*fakeFence{
			fenceA: {},
			fenceB: {},
		},
		failing: map[protocol.Handle]bool{},
	}
}

func (b *countingBackend) Name() string     { return "counting" }
func (b *countingBackend) Model() gpu.Model { return b.model }

func (b *countingBackend) ImportTexture(h protocol.Handle) (gpu.Texture, error) {
	if b.failing[h] {
		return nil, fmt.Errorf("import %#x: %w", uint64(h), gpu.ErrInvalidHandle)
	}
	t := &fakeTexture{handle: h, pixels: []byte{byte(h)}}
	b.imported = append(b.imported, t)
	return t, nil
}

func (b *countingBackend) NewCopyTarget(desc gpu.TextureDesc) (gpu.Texture, error) {
	t := &fakeTexture{pixels: make([]byte, 1)}
	b.targets = append(b.targets, t)
	return t, nil
}

func (b *countingBackend) CopyTexture(dst, src gpu.Texture) error {
	b.copies++
	copy(dst.Pixels(), src.Pixels())
	return nil
}

func (b *countingBackend) OpenFence(h protocol.Handle) (gpu.Fence, error) {
	f, ok := b.fences[h]
	if !ok {
		return nil, gpu.ErrInvalidHandle
	}
	b.opened = append(b.opened, h)
	f.closed = false
	return f, nil
}

func (b *countingBackend) NewLocalFence() (gpu.Fence, error) {
	b.local = &fakeFence{}
	return b.local, nil
}

func TestCacheHitDoesNotReimport(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	backend.fences[fenceA].Signal(10)
	c := New(backend)

	var first gpu.Texture
	for i := range 3 {
		tex, err := c.Acquire(context.Background(), 0, 1, h1, fenceA, uint64(5+i))
		if err != nil {
			t.Fatalf("Acquire #%d failed: %v", i, err)
		}
		if first == nil {
			first = tex
		} else if tex != first {
			t.Errorf("Acquire #%d returned a different texture for the same handle", i)
		}
	}

	want := Stats{Imports: 1, FenceWaits: 3}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
	if len(backend.opened) != 1 {
		t.Errorf("producer fence opened %d times, want 1", len(backend.opened))
	}
}

func TestChangedHandleImportsOnceAndReleasesOnce(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	backend.fences[fenceA].Signal(10)
	c := New(backend)
	ctx := context.Background()

	if _, err := c.Acquire(ctx, 0, 0, h1, fenceA, 1); err != nil {
		t.Fatalf("Acquire(H1) failed: %v", err)
	}
	if _, err := c.Acquire(ctx, 0, 0, h2, fenceA, 2); err != nil {
		t.Fatalf("Acquire(H2) failed: %v", err)
	}
	if _, err := c.Acquire(ctx, 0, 0, h2, fenceA, 3); err != nil {
		t.Fatalf("Acquire(H2) again failed: %v", err)
	}

	stats := c.Stats()
	if stats.Imports != 2 || stats.Releases != 1 {
		t.Errorf("Imports = %d, Releases = %d; want 2 and 1", stats.Imports, stats.Releases)
	}
	if !backend.imported[0].released {
		t.Errorf("H1 texture not released after handle change")
	}
	if backend.imported[1].released {
		t.Errorf("H2 texture released while still cached")
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	backend.fences[fenceA].Signal(10)
	c := New(backend)
	ctx := context.Background()

	for slot := range protocol.SwapchainLength {
		if _, err := c.Acquire(ctx, 1, slot, protocol.Handle(0x10+slot), fenceA, 1); err != nil {
			t.Fatalf("Acquire slot %d failed: %v", slot, err)
		}
	}
	for slot := range protocol.SwapchainLength {
		if _, err := c.Acquire(ctx, 1, slot, protocol.Handle(0x10+slot), fenceA, 2); err != nil {
			t.Fatalf("second Acquire slot %d failed: %v", slot, err)
		}
	}
	if got := c.Stats().Imports; got != protocol.SwapchainLength {
		t.Errorf("Imports = %d, want %d", got, protocol.SwapchainLength)
	}
}

func TestFenceWaitNeverSkippedForSameHandle(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	producer := backend.fences[fenceA]
	c := New(backend)
	ctx := context.Background()

	producer.Signal(5)
	if _, err := c.Acquire(ctx, 0, 0, h1, fenceA, 5); err != nil {
		t.Fatalf("Acquire(fence 5) failed: %v", err)
	}

	// Same handle, content updated in place, fence 6 not yet signalled.
	if _, err := c.Acquire(ctx, 0, 0, h1, fenceA, 6); !errors.Is(err, gpu.ErrFenceTimeout) {
		t.Fatalf("Acquire(fence 6) err = %v, want ErrFenceTimeout", err)
	}

	producer.Signal(6)
	if _, err := c.Acquire(ctx, 0, 0, h1, fenceA, 6); err != nil {
		t.Fatalf("Acquire(fence 6) after signal failed: %v", err)
	}

	if diff := cmp.Diff([]uint64{5, 6, 6}, producer.waits); diff != "" {
		t.Errorf("fence waits mismatch (-want +got):\n%s", diff)
	}
}

func TestFenceTimeoutReleasesSlot(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	backend.fences[fenceA].Signal(1)
	c := New(backend)
	ctx := context.Background()

	if _, err := c.Acquire(ctx, 2, 1, h1, fenceA, 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := c.Acquire(ctx, 2, 1, h1, fenceA, 2); !errors.Is(err, gpu.ErrFenceTimeout) {
		t.Fatalf("Acquire err = %v, want ErrFenceTimeout", err)
	}
	if !backend.imported[0].released {
		t.Errorf("slot texture kept after fence timeout")
	}

	backend.fences[fenceA].Signal(2)
	if _, err := c.Acquire(ctx, 2, 1, h1, fenceA, 2); err != nil {
		t.Fatalf("Acquire after recovery failed: %v", err)
	}

	want := Stats{Imports: 2, Releases: 1, FenceWaits: 3, FenceTimeouts: 1}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestCopyModel(t *testing.T) {
	backend := newCountingBackend(gpu.CopyModel)
	backend.fences[fenceA].Signal(10)
	c := New(backend)
	ctx := context.Background()

	tex, err := c.Acquire(ctx, 0, 0, h1, fenceA, 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if tex == gpu.Texture(backend.imported[0]) {
		t.Errorf("copy model returned the imported texture itself")
	}
	if want := backend.imported[0].pixels[0]; tex.Pixels()[0] != want {
		t.Errorf("copy target holds %#x, want producer contents %#x", tex.Pixels()[0], want)
	}

	// Every frame is copied, even on a cache hit.
	if _, err := c.Acquire(ctx, 0, 0, h1, fenceA, 2); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if backend.copies != 2 || c.Stats().Copies != 2 {
		t.Errorf("copies = %d (stats %d), want 2", backend.copies, c.Stats().Copies)
	}
	if got := backend.local.Value(); got != 2 {
		t.Errorf("copy fence at %d, want 2", got)
	}
	if err := c.WaitForPendingCopies(ctx); err != nil {
		t.Errorf("WaitForPendingCopies failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !backend.imported[0].released || !backend.targets[0].released {
		t.Errorf("Close left source or copy target unreleased")
	}
	if !backend.local.closed {
		t.Errorf("Close left the copy fence open")
	}
	if c.Stats().Releases != 1 {
		t.Errorf("Releases = %d, want 1", c.Stats().Releases)
	}
}

func TestImportModelSkipsCopies(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	c := New(backend)
	if _, err := c.Acquire(context.Background(), 0, 0, h1, 0, 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if backend.copies != 0 || backend.local != nil {
		t.Errorf("import model made %d copies", backend.copies)
	}
	if err := c.WaitForPendingCopies(context.Background()); err != nil {
		t.Errorf("WaitForPendingCopies with no copies failed: %v", err)
	}
}

func TestZeroFenceHandleSkipsWait(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	c := New(backend)
	if _, err := c.Acquire(context.Background(), 0, 0, h1, 0, 99); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if c.Stats().FenceWaits != 0 || len(backend.opened) != 0 {
		t.Errorf("waited on a zero fence handle")
	}
}

func TestFenceHandleChangeReopens(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	backend.fences[fenceA].Signal(1)
	backend.fences[fenceB].Signal(1)
	c := New(backend)
	ctx := context.Background()

	c.Acquire(ctx, 0, 0, h1, fenceA, 1)
	c.Acquire(ctx, 0, 0, h1, fenceB, 1)

	if diff := cmp.Diff([]protocol.Handle{fenceA, fenceB}, backend.opened); diff != "" {
		t.Errorf("opened fences mismatch (-want +got):\n%s", diff)
	}
	if !backend.fences[fenceA].closed {
		t.Errorf("previous producer fence not closed")
	}
}

func TestAcquireRejectsBadArguments(t *testing.T) {
	c := New(newCountingBackend(gpu.ImportModel))
	ctx := context.Background()

	tests := []struct {
		name        string
		layer, slot int
		tex         protocol.Handle
		want        error
	}{
		{"negative layer", -1, 0, h1, ErrOutOfRange},
		{"layer too large", protocol.MaxLayers, 0, h1, ErrOutOfRange},
		{"slot too large", 0, protocol.SwapchainLength, h1, ErrOutOfRange},
		{"zero handle", 0, 0, 0, gpu.ErrInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Acquire(ctx, tt.layer, tt.slot, tt.tex, 0, 0); !errors.Is(err, tt.want) {
				t.Errorf("Acquire err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestImportFailure(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	backend.failing[h2] = true
	c := New(backend)
	ctx := context.Background()

	if _, err := c.Acquire(ctx, 0, 0, h1, 0, 0); err != nil {
		t.Fatalf("Acquire(H1) failed: %v", err)
	}
	if _, err := c.Acquire(ctx, 0, 0, h2, 0, 0); !errors.Is(err, gpu.ErrInvalidHandle) {
		t.Fatalf("Acquire(H2) err = %v, want ErrInvalidHandle", err)
	}
	want := Stats{Imports: 1, Releases: 1, ImportFailures: 1}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}

	// The failed slot is empty, so H1 is imported afresh.
	if _, err := c.Acquire(ctx, 0, 0, h1, 0, 0); err != nil {
		t.Fatalf("Acquire(H1) again failed: %v", err)
	}
	if got := c.Stats().Imports; got != 2 {
		t.Errorf("Imports = %d, want 2", got)
	}
}

func TestReset(t *testing.T) {
	backend := newCountingBackend(gpu.ImportModel)
	backend.fences[fenceA].Signal(1)
	c := New(backend, WithFenceTimeout(time.Millisecond))
	ctx := context.Background()

	c.Acquire(ctx, 0, 0, h1, fenceA, 1)
	c.Acquire(ctx, 1, 2, h2, fenceA, 1)
	c.Reset()

	for _, tex := range backend.imported {
		if !tex.released {
			t.Errorf("texture %#x not released by Reset", uint64(tex.handle))
		}
	}
	if !backend.fences[fenceA].closed {
		t.Errorf("producer fence not closed by Reset")
	}

	c.Acquire(ctx, 0, 0, h1, fenceA, 1)
	if got := c.Stats().Imports; got != 3 {
		t.Errorf("Imports after Reset = %d, want 3", got)
	}
}

func TestCloseReportsCopyFenceError(t *testing.T) {
	backend := newCountingBackend(gpu.CopyModel)
	backend.fences[fenceA].Signal(1)
	c := New(backend)

	if _, err := c.Acquire(context.Background(), 0, 0, h1, fenceA, 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	errClose := errors.New("device lost")
	backend.local.closeErr = errClose

	if err := c.Close(); !errors.Is(err, errClose) {
		t.Errorf("Close() = %v, want %v", err, errClose)
	}
	if !backend.local.closed {
		t.Errorf("Close left the copy fence open")
	}
	if !backend.imported[0].released {
		t.Errorf("Close left the source texture unreleased")
	}
}
