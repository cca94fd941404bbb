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

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// HeaderFlags are the bits of Header.flags.
type HeaderFlags uint32

const (
	// FlagFeederAttached is set while a producer holds the segment open.
	FlagFeederAttached HeaderFlags = 1 << 0
)

// Config holds settings applied uniformly to every layer.
type Config struct {
	GlobalInputLayerID uint64          // 0x00: layer receiving global input
	Tint               [4]float32      // 0x08: RGBA multiplier
	Opacity            float32         // 0x18
	Target             ConsumerPattern // 0x1C: consumers that should show this frame
	TextureSize        PixelSize       // 0x20: size of every layer texture
	_                  [24]byte        // 0x28-0x3F: reserved
}

// DefaultConfig returns an untinted, opaque configuration for all consumers.
func DefaultConfig() Config {
	return Config{
		Tint:    [4]float32{1, 1, 1, 1},
		Opacity: 1,
	}
}

// LayerConfig describes one published layer.
type LayerConfig struct {
	LayerID    uint64      // 0x00: stable layer identity
	SourceRect PixelRect   // 0x08: content area within the texture
	DestRect   PixelRect   // 0x18: placement for non-VR consumers
	Texture    Handle      // 0x28: texture for Slot; 0 = nothing published
	FenceValue uint64      // 0x30: fence value to wait for before reading Slot
	Slot       uint8       // 0x38: swapchain slot holding this frame
	_          [3]byte     // 0x39
	Opacity    float32     // 0x3C
	VREnabled  bool        // 0x40
	_          [7]byte     // 0x41
	VR         VRPlacement // 0x48
	_          [24]byte    // 0x68-0x7F: reserved
}

// Header is the fixed control block at the start of the frame segment.
// Layout is little-endian with 8-byte alignment; every 64-bit word is
// copied atomically by Store and Load.
type Header struct {
	version     uint32                 // 0x00: protocol version
	flags       uint32                 // 0x04: HeaderFlags
	magic       [8]byte                // 0x08: "OKBMagic"
	sequence    uint64                 // 0x10: sequence lock, odd while writing
	generation  uint64                 // 0x18: incremented per complete snapshot
	sessionID   [16]byte               // 0x20: random per producer session
	feederPID   uint32                 // 0x30: producer process ID
	layerCount  uint32                 // 0x34: valid entries in layers
	fenceHandle uint64                 // 0x38: producer fence
	adapterLUID uint64                 // 0x40: GPU adapter, 0 = any
	reserved    [8]byte                // 0x48
	config      Config                 // 0x50
	layers      [MaxLayers]LayerConfig // 0x90
}

// NewHeader returns a header stamped with the current version and magic.
func NewHeader() Header {
	return Header{
		version: Version,
		magic:   Magic,
	}
}

// Version returns the protocol version
func (h *Header) Version() uint32 {
	return h.version
}

// Magic returns the magic bytes
func (h *Header) Magic() [8]byte {
	return h.magic
}

// Flags returns the header flags
func (h *Header) Flags() HeaderFlags {
	return HeaderFlags(h.flags)
}

// SetFlags sets the header flags
func (h *Header) SetFlags(flags HeaderFlags) {
	h.flags = uint32(flags)
}

// HaveFeeder reports whether a producer has written this header and is
// still attached.
func (h *Header) HaveFeeder() bool {
	return h.magic == Magic && h.Flags()&FlagFeederAttached != 0
}

// Sequence returns the sequence lock word as copied.
func (h *Header) Sequence() uint64 {
	return h.sequence
}

// Generation returns the snapshot generation
func (h *Header) Generation() uint64 {
	return h.generation
}

// SetGeneration sets the snapshot generation
func (h *Header) SetGeneration(gen uint64) {
	h.generation = gen
}

// SessionID returns the producer session ID
func (h *Header) SessionID() uuid.UUID {
	return uuid.UUID(h.sessionID)
}

// SetSessionID sets the producer session ID
func (h *Header) SetSessionID(id uuid.UUID) {
	h.sessionID = id
}

// FeederPID returns the producer process ID
func (h *Header) FeederPID() uint32 {
	return h.feederPID
}

// SetFeederPID sets the producer process ID
func (h *Header) SetFeederPID(pid uint32) {
	h.feederPID = pid
}

// FenceHandle returns the producer fence handle
func (h *Header) FenceHandle() Handle {
	return Handle(h.fenceHandle)
}

// SetFenceHandle sets the producer fence handle
func (h *Header) SetFenceHandle(fence Handle) {
	h.fenceHandle = uint64(fence)
}

// AdapterLUID returns the GPU adapter the producer renders on
func (h *Header) AdapterLUID() uint64 {
	return h.adapterLUID
}

// SetAdapterLUID sets the GPU adapter the producer renders on
func (h *Header) SetAdapterLUID(luid uint64) {
	h.adapterLUID = luid
}

// Config returns the global config
func (h *Header) Config() Config {
	return h.config
}

// SetConfig sets the global config
func (h *Header) SetConfig(c Config) {
	h.config = c
}

// LayerCount returns the number of valid layers
func (h *Header) LayerCount() int {
	return int(h.layerCount)
}

// Layers returns a copy of the valid layers.
func (h *Header) Layers() []LayerConfig {
	n := min(h.LayerCount(), MaxLayers)
	out := make([]LayerConfig, n)
	copy(out, h.layers[:n])
	return out
}

// SetLayers replaces the layer array. Entries past len(layers) are zeroed.
func (h *Header) SetLayers(layers []LayerConfig) error {
	if len(layers) > MaxLayers {
		return fmt.Errorf("%d layers, max %d: %w", len(layers), MaxLayers, ErrTooManyLayers)
	}
	h.layers = [MaxLayers]LayerConfig{}
	copy(h.layers[:], layers)
	h.layerCount = uint32(len(layers))
	return nil
}

// Validate checks a copied header for a compatible writer.
func (h *Header) Validate() error {
	if h.version != Version {
		return fmt.Errorf("got version %d, want %d: %w", h.version, Version, ErrVersionMismatch)
	}
	if h.magic != Magic {
		return ErrBadMagic
	}
	if h.layerCount > MaxLayers {
		return fmt.Errorf("header has %d layers: %w", h.layerCount, ErrTooManyLayers)
	}
	return nil
}

// RenderCacheKey identifies the frame content. It changes when the
// generation advances and also when a restarted producer begins counting
// from zero again, because the session ID is random.
func (h *Header) RenderCacheKey() uint64 {
	return binary.LittleEndian.Uint64(h.sessionID[:8]) ^
		binary.LittleEndian.Uint64(h.sessionID[8:]) ^
		h.generation
}
