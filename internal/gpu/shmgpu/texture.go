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
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
	"github.com/docker/go-units"
)

var textureMagic = [4]byte{'O', 'K', 'B', 'T'}

// textureHeader precedes the texel data in a texture segment.
type textureHeader struct {
	magic  [4]byte  // 0x00: "OKBT"
	format uint32   // 0x04: gpu.Format
	width  uint32   // 0x08
	height uint32   // 0x0C
	owner  uint32   // 0x10: creating PID
	_      [12]byte // 0x14-0x1F: reserved
}

const textureHeaderSize = 0x20

func (h *textureHeader) desc() gpu.TextureDesc {
	return gpu.TextureDesc{
		Width:  h.width,
		Height: h.height,
		Format: gpu.Format(h.format),
	}
}

func textureSegmentSize(desc gpu.TextureDesc) int {
	return textureHeaderSize + desc.ByteSize()
}

func validateDesc(desc gpu.TextureDesc) error {
	if desc.Width == 0 || desc.Height == 0 || desc.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("shmgpu: unusable texture description %+v", desc)
	}
	return nil
}

// SharedTexture is a producer-owned texture other processes can import.
type SharedTexture struct {
	mu     sync.Mutex
	seg    *shm.Segment
	handle protocol.Handle
	desc   gpu.TextureDesc
}

func createSharedTexture(desc gpu.TextureDesc) (*SharedTexture, error) {
	if err := validateDesc(desc); err != nil {
		return nil, err
	}
	h := newHandle()
	name := resourceName(h)
	size := textureSegmentSize(desc)

	// A file with this name can only be left over from a dead process that
	// had our PID.
	shm.RemoveSegment(name)

	seg, err := shm.CreateOrOpen(name, size)
	if err != nil {
		return nil, fmt.Errorf("shmgpu: creating texture: %w", err)
	}
	hdr := (*textureHeader)(seg.Base())
	*hdr = textureHeader{
		magic:  textureMagic,
		format: uint32(desc.Format),
		width:  desc.Width,
		height: desc.Height,
		owner:  uint32(os.Getpid()),
	}
	if logger.V(2) {
		logger.Infof("Created texture %#x %dx%d (%s)", uint64(h), desc.Width, desc.Height, units.BytesSize(float64(size)))
	}
	return &SharedTexture{seg: seg, handle: h, desc: desc}, nil
}

// Handle returns the value to publish in a LayerConfig.
func (t *SharedTexture) Handle() protocol.Handle {
	return t.handle
}

// Desc returns the texture description.
func (t *SharedTexture) Desc() gpu.TextureDesc {
	return t.desc
}

// Pixels returns the writable texel data. Nil after Release.
func (t *SharedTexture) Pixels() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return nil
	}
	return t.seg.Mem[textureHeaderSize:]
}

// Release unmaps the texture and removes its segment. Consumers that
// already imported it keep their mapping until they release it.
func (t *SharedTexture) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return nil
	}
	err := t.seg.Close()
	if rmErr := shm.RemoveSegment(resourceName(t.handle)); rmErr != nil && !errors.Is(rmErr, shm.ErrNotExist) && err == nil {
		err = rmErr
	}
	t.seg = nil
	return err
}

// importedTexture is a read-only mapping of another process's texture.
type importedTexture struct {
	mu     sync.Mutex
	seg    *shm.Segment
	handle protocol.Handle
	desc   gpu.TextureDesc
}

func importTexture(h protocol.Handle) (*importedTexture, error) {
	if !h.Valid() {
		return nil, gpu.ErrInvalidHandle
	}
	name := resourceName(h)
	size, err := shm.SegmentSize(name)
	if errors.Is(err, shm.ErrNotExist) {
		return nil, fmt.Errorf("texture %#x from pid %d is gone: %w", uint64(h), handleOwner(h), gpu.ErrInvalidHandle)
	}
	if err != nil {
		return nil, fmt.Errorf("shmgpu: texture %#x: %w", uint64(h), err)
	}
	if size < textureHeaderSize {
		return nil, fmt.Errorf("texture %#x is %d bytes: %w", uint64(h), size, gpu.ErrInvalidHandle)
	}
	seg, err := shm.OpenReadOnly(name, size)
	if errors.Is(err, shm.ErrNotExist) {
		return nil, fmt.Errorf("texture %#x: %w", uint64(h), gpu.ErrInvalidHandle)
	}
	if err != nil {
		return nil, fmt.Errorf("shmgpu: importing texture %#x: %w", uint64(h), err)
	}

	hdr := (*textureHeader)(seg.Base())
	desc := hdr.desc()
	if hdr.magic != textureMagic || validateDesc(desc) != nil || textureSegmentSize(desc) != size {
		seg.Close()
		return nil, fmt.Errorf("texture %#x has a corrupt header: %w", uint64(h), gpu.ErrInvalidHandle)
	}
	return &importedTexture{seg: seg, handle: h, desc: desc}, nil
}

func (t *importedTexture) Desc() gpu.TextureDesc {
	return t.desc
}

func (t *importedTexture) Pixels() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return nil
	}
	return t.seg.Mem[textureHeaderSize:]
}

func (t *importedTexture) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return nil
	}
	err := t.seg.Close()
	t.seg = nil
	return err
}

// copyTarget is a consumer-private texture in process memory.
type copyTarget struct {
	desc   gpu.TextureDesc
	pixels []byte
}

func (t *copyTarget) Desc() gpu.TextureDesc {
	return t.desc
}

func (t *copyTarget) Pixels() []byte {
	return t.pixels
}

func (t *copyTarget) Release() error {
	t.pixels = nil
	return nil
}
