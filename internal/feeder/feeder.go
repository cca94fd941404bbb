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

// Package feeder is the producer side of the frame hand-off. A Feeder owns
// a small swapchain of shared textures per layer and one shared fence, and
// publishes every frame through an ipc.Writer only after its textures are
// rendered and the fence is signalled.
package feeder

import (
	"errors"
	"fmt"
	"sync"

	units "github.com/docker/go-units"
	"google.golang.org/grpc/grpclog"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu/shmgpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/ipc"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
)

var logger = grpclog.Component("kneeboard-feeder")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("feeder: closed")

// MinSwapchainLength is the fewest textures per layer a Feeder rotates
// through.
const MinSwapchainLength = 2

// RenderFunc draws one layer into pixels, which are laid out as desc
// describes. It must not retain pixels.
type RenderFunc func(pixels []byte, desc gpu.TextureDesc)

// Layer is one layer of a frame to submit.
type Layer struct {
	ID         uint64
	SourceRect protocol.PixelRect // empty means the whole texture
	DestRect   protocol.PixelRect
	Opacity    float32
	VREnabled  bool
	VR         protocol.VRPlacement
	Render     RenderFunc
}

type options struct {
	swapchainLength int
	desc            gpu.TextureDesc
	writerOpts      []ipc.Option
}

// Option configures a Feeder.
type Option func(*options)

// WithSwapchainLength sets the number of textures per layer. It is clamped
// to [MinSwapchainLength, protocol.SwapchainLength].
func WithSwapchainLength(n int) Option {
	return func(o *options) {
		o.swapchainLength = min(max(n, MinSwapchainLength), protocol.SwapchainLength)
	}
}

// WithTextureSize sets the size of every layer texture.
func WithTextureSize(width, height uint32) Option {
	return func(o *options) {
		o.desc.Width = width
		o.desc.Height = height
	}
}

// WithWriterOptions passes options through to the ipc.Writer.
func WithWriterOptions(opts ...ipc.Option) Option {
	return func(o *options) {
		o.writerOpts = append(o.writerOpts, opts...)
	}
}

// Feeder renders and publishes frames. Methods are safe for concurrent
// use, but frames are produced one at a time.
type Feeder struct {
	mu     sync.Mutex
	o      options
	dev    *shmgpu.Device
	writer *ipc.Writer
	fence  *shmgpu.SharedFence

	fenceValue uint64
	frame      uint64
	textures   [protocol.MaxLayers][]*shmgpu.SharedTexture
	closed     bool
}

// New creates the shared fence and the frame writer. Textures are
// allocated on first use of each layer.
func New(opts ...Option) (*Feeder, error) {
	o := options{
		swapchainLength: protocol.SwapchainLength,
		desc:            gpu.TextureDesc{Width: 1024, Height: 1024, Format: gpu.FormatBGRA8},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.desc.Width == 0 || o.desc.Height == 0 {
		return nil, fmt.Errorf("feeder: invalid texture size %dx%d", o.desc.Width, o.desc.Height)
	}

	dev := shmgpu.NewDevice()
	fence, err := dev.CreateSharedFence()
	if err != nil {
		return nil, err
	}
	w := ipc.NewWriter(o.writerOpts...)
	w.SetFenceHandle(fence.Handle())

	logger.Infof("Feeder ready: %d textures per layer of %dx%d (%s each)",
		o.swapchainLength, o.desc.Width, o.desc.Height, units.BytesSize(float64(o.desc.ByteSize())))
	return &Feeder{
		o:      o,
		dev:    dev,
		writer: w,
		fence:  fence,
	}, nil
}

// Writer returns the underlying frame writer.
func (f *Feeder) Writer() *ipc.Writer {
	return f.writer
}

// SwapchainLength returns the number of textures per layer.
func (f *Feeder) SwapchainLength() int {
	return f.o.swapchainLength
}

// TextureDesc returns the description shared by every layer texture.
func (f *Feeder) TextureDesc() gpu.TextureDesc {
	return f.o.desc
}

// FrameCount returns the number of frames submitted.
func (f *Feeder) FrameCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// Submit renders layers into the next swapchain slot, signals the fence and
// publishes the frame.
func (f *Feeder) Submit(cfg protocol.Config, layers []Layer) error {
	if len(layers) > protocol.MaxLayers {
		return fmt.Errorf("%d layers, max %d: %w", len(layers), protocol.MaxLayers, protocol.ErrTooManyLayers)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	slot := int(f.frame % uint64(f.o.swapchainLength))
	out := make([]protocol.LayerConfig, len(layers))
	for i, l := range layers {
		tex, err := f.texture(i, slot)
		if err != nil {
			return err
		}
		if l.Render != nil {
			l.Render(tex.Pixels(), tex.Desc())
		}
		src := l.SourceRect
		if src.Empty() {
			src = protocol.PixelRect{Width: f.o.desc.Width, Height: f.o.desc.Height}
		}
		out[i] = protocol.LayerConfig{
			LayerID:    l.ID,
			SourceRect: src,
			DestRect:   l.DestRect,
			Texture:    tex.Handle(),
			Slot:       uint8(slot),
			Opacity:    l.Opacity,
			VREnabled:  l.VREnabled,
			VR:         l.VR,
		}
	}

	f.fenceValue++
	if err := f.fence.Signal(f.fenceValue); err != nil {
		return fmt.Errorf("feeder: signalling fence: %w", err)
	}
	for i := range out {
		out[i].FenceValue = f.fenceValue
	}

	cfg.TextureSize = protocol.PixelSize{Width: f.o.desc.Width, Height: f.o.desc.Height}
	if err := f.writer.SubmitFrame(cfg, out); err != nil {
		return err
	}
	f.frame++
	if logger.V(2) {
		logger.Infof("Submitted frame %d: %d layers in slot %d, fence %d", f.frame, len(out), slot, f.fenceValue)
	}
	return nil
}

// texture returns the texture for (layer, slot), allocating the layer's
// swapchain on first use. f.mu is held.
func (f *Feeder) texture(layer, slot int) (*shmgpu.SharedTexture, error) {
	if f.textures[layer] == nil {
		chain := make([]*shmgpu.SharedTexture, f.o.swapchainLength)
		for i := range chain {
			tex, err := f.dev.CreateSharedTexture(f.o.desc)
			if err != nil {
				for _, t := range chain[:i] {
					t.Release()
				}
				return nil, fmt.Errorf("feeder: layer %d: %w", layer, err)
			}
			chain[i] = tex
		}
		f.textures[layer] = chain
	}
	return f.textures[layer][slot], nil
}

// Detach hides the current frame from consumers without releasing
// resources. A later Submit attaches again.
func (f *Feeder) Detach() {
	f.writer.Detach()
}

// Close detaches, then releases every texture and the fence.
func (f *Feeder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	err := f.writer.Close()
	for layer := range f.textures {
		for _, tex := range f.textures[layer] {
			if rerr := tex.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}
		f.textures[layer] = nil
	}
	if ferr := f.fence.Close(); ferr != nil && err == nil {
		err = ferr
	}
	logger.Infof("Feeder closed after %d frames", f.frame)
	return err
}
