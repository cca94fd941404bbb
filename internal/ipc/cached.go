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
	"errors"

	"github.com/google/uuid"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/consumers"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/texcache"
)

// LayerTexture is a layer of a Snapshot with its local texture.
type LayerTexture struct {
	Index int // position in the header's layer array
	protocol.LayerConfig
	Resource gpu.Texture
}

// Snapshot is a frame whose textures are ready to sample. Textures stay
// valid until the next MaybeGet or Close.
type Snapshot struct {
	Frame
	Textures []LayerTexture
}

// CachedReader combines a Reader with a texture cache. Repeated polls of
// the same generation return the previous snapshot without touching the
// GPU.
type CachedReader struct {
	reader   *Reader
	cache    *texcache.Cache
	registry *consumers.Registry

	session  uuid.UUID
	lastGen  uint64
	last     Snapshot
	haveLast bool

	// Render cache key of a frame whose fence wait timed out. It is not
	// waited on again; the producer must publish a new frame.
	timedOutKey uint64
	timedOut    bool
}

// NewCachedReader returns a CachedReader for kind importing through
// backend.
func NewCachedReader(kind protocol.ConsumerKind, backend gpu.Backend, opts ...Option) *CachedReader {
	o := buildOptions(opts)
	r := &Reader{kind: kind, o: o}
	// Liveness is reported only once textures are actually usable.
	r.o.registry = nil
	return &CachedReader{
		reader:   r,
		cache:    texcache.New(backend, texcache.WithFenceTimeout(o.fenceTimeout)),
		registry: o.registry,
	}
}

// Reader returns the underlying reader.
func (c *CachedReader) Reader() *Reader {
	return c.reader
}

// Stats returns the texture cache counters.
func (c *CachedReader) Stats() texcache.Stats {
	return c.cache.Stats()
}

// MaybeGet returns the current snapshot. It blocks only on the producer
// fence, for at most the fence timeout.
func (c *CachedReader) MaybeGet(ctx context.Context) Snapshot {
	f := c.reader.MaybeGet()
	if !f.Valid() {
		return Snapshot{Frame: f}
	}

	if session := f.SessionID(); session != c.session {
		if c.session != uuid.Nil {
			logger.Infof("Producer session changed from %s to %s; dropping cached textures", c.session, session)
		}
		c.cache.Reset()
		c.session = session
		c.lastGen = 0
		c.haveLast = false
		c.timedOut = false
	}
	if gen := f.Generation(); gen < c.lastGen {
		logger.Warningf("Frame generation went backwards from %d to %d", c.lastGen, gen)
		c.haveLast = false
	}
	c.lastGen = f.Generation()

	key := f.RenderCacheKey()
	if c.haveLast && c.last.RenderCacheKey() == key {
		c.markActive()
		return c.last
	}
	if c.timedOut && c.timedOutKey == key {
		return Snapshot{Frame: emptyFrame(ReasonFenceTimeout)}
	}
	c.timedOut = false

	snap := Snapshot{Frame: f}
	complete := true
	for i, l := range f.Layers() {
		if !l.Texture.Valid() {
			continue
		}
		tex, err := c.cache.Acquire(ctx, i, int(l.Slot), l.Texture, f.FenceHandle(), l.FenceValue)
		switch {
		case err == nil:
			snap.Textures = append(snap.Textures, LayerTexture{Index: i, LayerConfig: l, Resource: tex})
		case errors.Is(err, gpu.ErrFenceTimeout):
			c.haveLast = false
			c.timedOut, c.timedOutKey = true, key
			return Snapshot{Frame: emptyFrame(ReasonFenceTimeout)}
		case ctx.Err() != nil:
			c.haveLast = false
			return Snapshot{Frame: emptyFrame(ReasonCancelled)}
		default:
			logger.Warningf("Skipping layer %d (id %d) this frame: %v", i, l.LayerID, err)
			complete = false
		}
	}

	// A snapshot missing a layer is not reused, so the next poll retries
	// the failed imports.
	c.last = snap
	c.haveLast = complete
	c.markActive()
	return snap
}

func (c *CachedReader) markActive() {
	if c.registry != nil {
		c.registry.Set(c.reader.kind)
	}
}

// Close releases cached textures and detaches from the segment.
func (c *CachedReader) Close() error {
	err := c.cache.Close()
	if rerr := c.reader.Close(); err == nil {
		err = rerr
	}
	c.haveLast = false
	c.timedOut = false
	return err
}
