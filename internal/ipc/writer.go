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
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
)

// ErrBadSlot is returned when a layer names a swapchain slot outside
// protocol.SwapchainLength.
var ErrBadSlot = errors.New("ipc: swapchain slot out of range")

// Writer publishes frames. There must be at most one Writer per segment.
//
// A Writer whose segment could not be created is still usable: every
// method becomes a no-op, so a producer keeps running without consumers.
type Writer struct {
	mu     sync.Mutex
	seg    *shm.Segment
	shared *protocol.Header
	local  protocol.Header
}

// NewWriter opens or creates the frame segment. Failure is logged and
// yields a Writer for which Valid reports false.
func NewWriter(opts ...Option) *Writer {
	o := buildOptions(opts)
	w := &Writer{}

	session, err := uuid.NewRandom()
	if err != nil {
		logger.Warningf("Not publishing frames: cannot generate session ID: %v", err)
		return w
	}

	seg, err := shm.CreateOrOpen(o.segmentName, protocol.HeaderSize)
	if err != nil {
		logger.Warningf("Not publishing frames: %v", err)
		return w
	}
	shared := protocol.HeaderAt(seg)

	var prev protocol.Header
	if !seg.Created && shared.Load(&prev, o.readRetries) && prev.Validate() == nil && prev.HaveFeeder() {
		pid := prev.FeederPID()
		if pid != uint32(os.Getpid()) && processAlive(pid) {
			logger.Warningf("Feeder pid %d is still attached to %s; taking over", pid, o.segmentName)
		} else {
			logger.Infof("Replacing stale feeder pid %d", pid)
		}
	}

	w.seg = seg
	w.shared = shared
	w.local = protocol.NewHeader()
	w.local.SetSessionID(session)
	w.local.SetFeederPID(uint32(os.Getpid()))
	w.local.SetAdapterLUID(o.adapterLUID)
	w.local.SetConfig(protocol.DefaultConfig())
	logger.Infof("Publishing frames to %s, session %s", seg.Path, session)
	return w
}

// Valid reports whether frames are actually being published.
func (w *Writer) Valid() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seg != nil
}

// SessionID returns the random ID of this producer session.
func (w *Writer) SessionID() uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.local.SessionID()
}

// FrameCount returns the number of snapshots published, including empty
// frames and the detach.
func (w *Writer) FrameCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.local.Generation()
}

// SetFenceHandle sets the producer fence published with the next frame.
func (w *Writer) SetFenceHandle(h protocol.Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.local.SetFenceHandle(h)
}

// SubmitFrame publishes cfg and layers as the next generation. Every
// layer's texture must be fully rendered and its fence value signalled
// before the call.
func (w *Writer) SubmitFrame(cfg protocol.Config, layers []protocol.LayerConfig) error {
	for i, l := range layers {
		if int(l.Slot) >= protocol.SwapchainLength {
			return fmt.Errorf("layer %d slot %d: %w", i, l.Slot, ErrBadSlot)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.local.SetLayers(layers); err != nil {
		return err
	}
	w.local.SetConfig(cfg)
	w.publish(protocol.FlagFeederAttached)
	return nil
}

// SubmitEmptyFrame publishes a frame without layers while staying
// attached, so consumers hide the previous content.
func (w *Writer) SubmitEmptyFrame() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.local.SetLayers(nil) // cannot fail for zero layers
	w.publish(protocol.FlagFeederAttached)
}

// Detach clears the feeder-attached flag. Consumers stop showing content
// on their next poll.
func (w *Writer) Detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.local.Flags()&protocol.FlagFeederAttached == 0 {
		return
	}
	_ = w.local.SetLayers(nil) // cannot fail for zero layers
	w.publish(0)
	logger.Infof("Detached after %d frames", w.local.Generation())
}

// Close detaches and unmaps the segment. The segment is left for the next
// producer.
func (w *Writer) Close() error {
	w.Detach()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	err := w.seg.Close()
	w.seg = nil
	w.shared = nil
	return err
}

// publish stores the local header as the next generation. w.mu is held.
func (w *Writer) publish(flags protocol.HeaderFlags) {
	w.local.SetFlags(flags)
	w.local.SetGeneration(w.local.Generation() + 1)
	if w.shared == nil {
		return
	}
	w.shared.Store(&w.local)
}
