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

// Package gpu defines the capability set a graphics backend provides to the
// consumer side of the frame hand-off: import or copy a producer texture,
// wait on and signal cross-process fences, and release local resources.
//
// Each graphics API (D3D11, D3D12, Vulkan, ...) implements Backend against
// its native calls. Nothing above this interface issues API-specific work.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
)

var (
	// ErrFenceTimeout is returned when a fence does not reach the requested
	// value in time. The producer is treated as unresponsive.
	ErrFenceTimeout = errors.New("gpu: fence wait timed out")

	// ErrInvalidHandle is returned for the zero handle or a handle that no
	// longer refers to a live resource.
	ErrInvalidHandle = errors.New("gpu: invalid handle")

	// ErrDescMismatch is returned when copying between textures with
	// different descriptions.
	ErrDescMismatch = errors.New("gpu: texture description mismatch")

	// ErrReleased is returned when using a resource after Release or Close.
	ErrReleased = errors.New("gpu: resource released")
)

// Model describes how a backend makes a producer texture usable locally.
type Model int

const (
	// ImportModel backends read the producer's texture directly.
	ImportModel Model = iota
	// CopyModel backends copy the producer's texture into a private
	// texture every frame, because the API cannot sample an imported
	// cross-process resource.
	CopyModel
)

func (m Model) String() string {
	switch m {
	case ImportModel:
		return "import"
	case CopyModel:
		return "copy"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// Format is a texel format.
type Format uint32

const (
	// FormatBGRA8 is 8-bit premultiplied BGRA, 4 bytes per texel.
	FormatBGRA8 Format = iota + 1
)

// BytesPerPixel returns the texel size, or 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	if f == FormatBGRA8 {
		return 4
	}
	return 0
}

// TextureDesc describes a 2D texture.
type TextureDesc struct {
	Width  uint32
	Height uint32
	Format Format
}

// ByteSize returns the size of the texel data.
func (d TextureDesc) ByteSize() int {
	return int(d.Width) * int(d.Height) * d.Format.BytesPerPixel()
}

// Texture is a local, read-only view of a texture.
type Texture interface {
	Desc() TextureDesc
	// Pixels returns the texel data. Callers must not modify it.
	Pixels() []byte
	// Release frees the local resource. The producer's texture is not
	// affected.
	Release() error
}

// Fence is a monotonically increasing cross-process synchronization value.
type Fence interface {
	// Wait blocks until the fence reaches value, ctx is done, or timeout
	// elapses. It returns an error wrapping ErrFenceTimeout on timeout.
	Wait(ctx context.Context, value uint64, timeout time.Duration) error
	// Signal raises the fence to value. Lower values are ignored.
	Signal(value uint64) error
	// Value returns the last signalled value.
	Value() uint64
	Close() error
}

// Backend is implemented once per graphics API.
type Backend interface {
	Name() string
	Model() Model

	// ImportTexture opens the producer texture h.
	ImportTexture(h protocol.Handle) (Texture, error)
	// NewCopyTarget allocates a private texture matching desc. Only
	// CopyModel backends need to support it.
	NewCopyTarget(desc TextureDesc) (Texture, error)
	// CopyTexture copies src into dst, which must come from NewCopyTarget.
	CopyTexture(dst, src Texture) error

	// OpenFence opens the producer fence h.
	OpenFence(h protocol.Handle) (Fence, error)
	// NewLocalFence creates a fence private to this consumer, signalled
	// after copies complete.
	NewLocalFence() (Fence, error)
}
