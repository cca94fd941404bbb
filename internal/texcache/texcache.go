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

// Package texcache keeps, per (layer, swapchain slot), the local texture a
// consumer made from a producer texture handle, and sequences every read of
// it behind the producer's fence.
//
// Most frames only change fence values, not handles, so the common path
// is a cache hit plus a fence wait. A changed handle releases the old
// local texture and imports the new one. Fence waits are never skipped,
// because a producer may re-render into the same texture.
package texcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/envconfig"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"google.golang.org/grpc/grpclog"
)

var logger = grpclog.Component("kneeboard-texcache")

// ErrOutOfRange is returned for a layer or slot index outside the header's
// fixed capacity.
var ErrOutOfRange = errors.New("texcache: layer or slot out of range")

// Stats counts cache activity since creation.
type Stats struct {
	Imports        uint64 // producer textures imported
	Releases       uint64 // local textures released
	Copies         uint64 // copy-model copies
	FenceWaits     uint64 // producer fence waits issued
	FenceTimeouts  uint64 // producer fence waits that timed out
	ImportFailures uint64 // imports or copy-target allocations that failed
}

type entry struct {
	handle protocol.Handle
	source gpu.Texture // imported producer texture
	local  gpu.Texture // what callers read: source, or a private copy
}

// Cache is used from a single render loop and is not safe for concurrent
// use.
type Cache struct {
	backend      gpu.Backend
	fenceTimeout time.Duration

	entries [protocol.MaxLayers][protocol.SwapchainLength]entry

	fence       gpu.Fence
	fenceHandle protocol.Handle

	copyFence      gpu.Fence
	copyFenceValue uint64

	stats Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithFenceTimeout overrides envconfig.FenceTimeout.
func WithFenceTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fenceTimeout = d }
}

// New returns an empty cache importing through backend.
func New(backend gpu.Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:      backend,
		fenceTimeout: envconfig.FenceTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the backend the cache imports through.
func (c *Cache) Backend() gpu.Backend {
	return c.backend
}

// Stats returns the activity counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

// Acquire returns a readable local texture for the producer texture tex in
// (layer, slot), after the producer fence fenceHandle has reached
// fenceValue.
//
// On fence timeout the slot is released and the returned error wraps
// gpu.ErrFenceTimeout; the next Acquire imports again.
func (c *Cache) Acquire(ctx context.Context, layer, slot int, tex, fenceHandle protocol.Handle, fenceValue uint64) (gpu.Texture, error) {
	if layer < 0 || layer >= protocol.MaxLayers || slot < 0 || slot >= protocol.SwapchainLength {
		return nil, fmt.Errorf("layer %d slot %d: %w", layer, slot, ErrOutOfRange)
	}
	if !tex.Valid() {
		return nil, fmt.Errorf("layer %d slot %d: %w", layer, slot, gpu.ErrInvalidHandle)
	}

	e := &c.entries[layer][slot]
	if e.handle != tex {
		c.releaseEntry(e)
		if err := c.importEntry(e, tex); err != nil {
			c.stats.ImportFailures++
			return nil, fmt.Errorf("layer %d slot %d: %w", layer, slot, err)
		}
	}

	if err := c.waitProducer(ctx, fenceHandle, fenceValue); err != nil {
		if errors.Is(err, gpu.ErrFenceTimeout) {
			c.stats.FenceTimeouts++
			logger.Warningf("Producer fence %#x did not reach %d within %v; releasing layer %d slot %d", uint64(fenceHandle), fenceValue, c.fenceTimeout, layer, slot)
			c.releaseEntry(e)
		}
		return nil, err
	}

	if c.backend.Model() == gpu.CopyModel {
		if err := c.copyEntry(e); err != nil {
			return nil, fmt.Errorf("layer %d slot %d: %w", layer, slot, err)
		}
	}
	return e.local, nil
}

func (c *Cache) importEntry(e *entry, tex protocol.Handle) error {
	source, err := c.backend.ImportTexture(tex)
	if err != nil {
		return err
	}
	local := source
	if c.backend.Model() == gpu.CopyModel {
		local, err = c.backend.NewCopyTarget(source.Desc())
		if err != nil {
			source.Release()
			return err
		}
	}
	c.stats.Imports++
	if logger.V(2) {
		logger.Infof("Imported texture %#x (%s model)", uint64(tex), c.backend.Model())
	}
	*e = entry{handle: tex, source: source, local: local}
	return nil
}

func (c *Cache) releaseEntry(e *entry) {
	if e.source == nil {
		*e = entry{}
		return
	}
	if e.local != e.source {
		if err := e.local.Release(); err != nil {
			logger.Warningf("Releasing copy of texture %#x: %v", uint64(e.handle), err)
		}
	}
	if err := e.source.Release(); err != nil {
		logger.Warningf("Releasing texture %#x: %v", uint64(e.handle), err)
	}
	c.stats.Releases++
	*e = entry{}
}

// waitProducer waits for the producer fence. A zero fence handle means the
// producer publishes without GPU work outstanding.
func (c *Cache) waitProducer(ctx context.Context, fenceHandle protocol.Handle, value uint64) error {
	if !fenceHandle.Valid() {
		return nil
	}
	if fenceHandle != c.fenceHandle {
		c.closeProducerFence()
		f, err := c.backend.OpenFence(fenceHandle)
		if err != nil {
			return fmt.Errorf("opening producer fence: %w", err)
		}
		c.fence, c.fenceHandle = f, fenceHandle
	}
	c.stats.FenceWaits++
	return c.fence.Wait(ctx, value, c.fenceTimeout)
}

func (c *Cache) closeProducerFence() {
	if c.fence == nil {
		return
	}
	if err := c.fence.Close(); err != nil {
		logger.Warningf("Closing producer fence %#x: %v", uint64(c.fenceHandle), err)
	}
	c.fence, c.fenceHandle = nil, 0
}

func (c *Cache) copyEntry(e *entry) error {
	if c.copyFence == nil {
		f, err := c.backend.NewLocalFence()
		if err != nil {
			return fmt.Errorf("creating copy fence: %w", err)
		}
		c.copyFence = f
	}
	if err := c.backend.CopyTexture(e.local, e.source); err != nil {
		return err
	}
	c.stats.Copies++
	c.copyFenceValue++
	return c.copyFence.Signal(c.copyFenceValue)
}

// WaitForPendingCopies blocks until every copy issued so far has completed.
func (c *Cache) WaitForPendingCopies(ctx context.Context) error {
	if c.copyFence == nil {
		return nil
	}
	return c.copyFence.Wait(ctx, c.copyFenceValue, c.fenceTimeout)
}

// Reset releases every cached texture and the producer fence. Consumers
// call it when the producer session changes.
func (c *Cache) Reset() {
	for layer := range c.entries {
		for slot := range c.entries[layer] {
			c.releaseEntry(&c.entries[layer][slot])
		}
	}
	c.closeProducerFence()
}

// Close waits for outstanding copies and releases everything.
func (c *Cache) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.fenceTimeout)
	defer cancel()
	err := c.WaitForPendingCopies(ctx)
	if err != nil {
		logger.Warningf("Releasing textures with copies still pending: %v", err)
	}
	c.Reset()
	if c.copyFence != nil {
		if cerr := c.copyFence.Close(); cerr != nil {
			logger.Warningf("Closing copy fence: %v", cerr)
			if err == nil {
				err = cerr
			}
		}
		c.copyFence = nil
	}
	return err
}
