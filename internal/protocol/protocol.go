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

// Package protocol defines the binary layout shared by the kneeboard
// producer and its consumers: the frame header segment, the per-layer
// records inside it, and the closed set of consumer kinds.
//
// The layout is fixed and not self-describing. Any change to it must bump
// Version; the segment name also embeds the header size, so a forgotten
// bump still cannot make old and new builds attach to each other.
package protocol

import (
	"errors"
	"unsafe"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
)

// Layout constants
const (
	// Version is the protocol version. Producer and consumer must match exactly.
	Version = uint32(3)

	// MaxLayers is the capacity of the per-layer array.
	MaxLayers = 4

	// SwapchainLength is the number of rotating textures per layer. It is
	// the only protection against the producer overwriting a texture a
	// consumer is still reading, so it must be at least 2.
	SwapchainLength = 3

	// HeaderSize is the size of Header in bytes.
	HeaderSize = 0x290

	// ConfigSize is the size of Config in bytes.
	ConfigSize = 0x40

	// LayerConfigSize is the size of LayerConfig in bytes.
	LayerConfigSize = 0x80
)

// Magic distinguishes a header written by a producer from memory that
// merely happens to have the feeder-attached bit set.
var Magic = [8]byte{'O', 'K', 'B', 'M', 'a', 'g', 'i', 'c'}

var (
	// ErrVersionMismatch is returned when a header was written by a
	// different protocol version.
	ErrVersionMismatch = errors.New("protocol: version mismatch")

	// ErrBadMagic is returned when a header has never been written by a producer.
	ErrBadMagic = errors.New("protocol: bad magic")

	// ErrTooManyLayers is returned when a header claims more than MaxLayers layers.
	ErrTooManyLayers = errors.New("protocol: too many layers")
)

// SegmentName returns the name of the frame header segment.
func SegmentName() string {
	return shm.SegmentName(shm.ProjectID, Version, unsafe.Sizeof(Header{}))
}

// Handle is an opaque cross-process reference to a GPU resource or fence.
// Zero means nothing has been published.
type Handle uint64

// Valid reports whether h refers to a published resource.
func (h Handle) Valid() bool {
	return h != 0
}

// PixelSize is a size in texels.
type PixelSize struct {
	Width  uint32
	Height uint32
}

// PixelRect is a rectangle in texels.
type PixelRect struct {
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
}

// Empty reports whether r has no area.
func (r PixelRect) Empty() bool {
	return r.Width == 0 || r.Height == 0
}

// VRPlacement is where a layer is shown in VR. It is produced and consumed
// outside this package; the header only carries it.
type VRPlacement struct {
	X, Y, Z       float32 // metres
	RX, RY, RZ    float32 // radians
	Width, Height float32 // metres
}
