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
	"fmt"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
)

// Backend is the consumer side. Depending on its model it either hands out
// the read-only mapping of the producer texture or copies it into process
// memory.
type Backend struct {
	model gpu.Model
}

var _ gpu.Backend = (*Backend)(nil)

// New returns a backend using the given model.
func New(model gpu.Model) *Backend {
	return &Backend{model: model}
}

func (b *Backend) Name() string {
	return "shm"
}

func (b *Backend) Model() gpu.Model {
	return b.model
}

func (b *Backend) ImportTexture(h protocol.Handle) (gpu.Texture, error) {
	t, err := importTexture(h)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Backend) NewCopyTarget(desc gpu.TextureDesc) (gpu.Texture, error) {
	if err := validateDesc(desc); err != nil {
		return nil, err
	}
	return &copyTarget{desc: desc, pixels: make([]byte, desc.ByteSize())}, nil
}

func (b *Backend) CopyTexture(dst, src gpu.Texture) error {
	target, ok := dst.(*copyTarget)
	if !ok {
		return fmt.Errorf("shmgpu: copy destination %T was not created by NewCopyTarget", dst)
	}
	if target.pixels == nil {
		return gpu.ErrReleased
	}
	if target.desc != src.Desc() {
		return fmt.Errorf("copy %+v into %+v: %w", src.Desc(), target.desc, gpu.ErrDescMismatch)
	}
	pixels := src.Pixels()
	if pixels == nil {
		return gpu.ErrReleased
	}
	copy(target.pixels, pixels)
	return nil
}

func (b *Backend) OpenFence(h protocol.Handle) (gpu.Fence, error) {
	f, err := openFence(h)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (b *Backend) NewLocalFence() (gpu.Fence, error) {
	return newLocalFence(), nil
}

// Device is the producer side: it creates textures and fences that
// consumers can open by handle.
type Device struct{}

// NewDevice returns a producer device.
func NewDevice() *Device {
	return &Device{}
}

// CreateSharedTexture allocates a texture consumers can import.
func (d *Device) CreateSharedTexture(desc gpu.TextureDesc) (*SharedTexture, error) {
	return createSharedTexture(desc)
}

// CreateSharedFence allocates a fence consumers can open.
func (d *Device) CreateSharedFence() (*SharedFence, error) {
	f, err := createSharedFence()
	if err != nil {
		return nil, err
	}
	return &SharedFence{fence: f}, nil
}
