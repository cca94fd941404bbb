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

// Command kneeboard-feeder publishes a moving test card through the frame
// hand-off, for exercising consumers without the full application.
package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/dc0d/onexit"
	"google.golang.org/grpc/grpclog"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/consumers"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/feeder"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/ipc"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
)

var logger = grpclog.Component("kneeboard-feeder")

// maxTextureSize is the largest texture edge the feeder allocates.
const maxTextureSize = 16384

var (
	segment   = flag.String("segment", protocol.SegmentName(), "frame segment name")
	fps       = flag.Int("fps", 60, "frames per second")
	width     = flag.Uint("width", 1024, "texture width in pixels")
	height    = flag.Uint("height", 1024, "texture height in pixels")
	swapchain = flag.Int("swapchain", protocol.SwapchainLength, "textures per layer")
	layers    = flag.Int("layers", 1, "number of layers")
	frames    = flag.Uint64("frames", 0, "stop after this many frames; 0 runs until interrupted")
	always    = flag.Bool("always", false, "render even when no consumer is active")
	target    = flag.String("target", "", "only show frames to this consumer kind")
)

func main() {
	flag.Parse()

	cfg := protocol.DefaultConfig()
	if *target != "" {
		kind, err := protocol.ParseConsumerKind(*target)
		if err != nil {
			logger.Fatalf("-target: %v", err)
		}
		cfg.Target = protocol.PatternFor(kind)
	}
	if *fps <= 0 {
		logger.Fatalf("-fps must be positive, got %d", *fps)
	}
	if *layers < 1 || *layers > protocol.MaxLayers {
		logger.Fatalf("-layers must be in [1, %d], got %d", protocol.MaxLayers, *layers)
	}
	if err := checkTextureSize(*width, *height); err != nil {
		logger.Fatalf("%v", err)
	}

	f, err := feeder.New(
		feeder.WithSwapchainLength(*swapchain),
		feeder.WithTextureSize(uint32(*width), uint32(*height)),
		feeder.WithWriterOptions(ipc.WithSegmentName(*segment)),
	)
	if err != nil {
		logger.Fatalf("Creating feeder: %v", err)
	}
	// onexit runs this on SIGINT and SIGTERM as well as on ForceExit.
	// Close is idempotent, so the main loop may race it.
	onexit.Register(func() { f.Close() })

	reg, err := consumers.Open()
	if err != nil {
		logger.Warningf("ActiveConsumers unavailable, rendering unconditionally: %v", err)
		*always = true
		reg = consumers.NewInMemory()
	}

	ticker := time.NewTicker(time.Second / time.Duration(*fps))
	defer ticker.Stop()

	idle := false
	for *frames == 0 || f.FrameCount() < *frames {
		select {
		case <-onexit.Done():
			logger.Infof("Interrupted, detaching")
			f.Close()
			return
		case <-ticker.C:
		}

		// Consumers only report liveness once they have seen a frame, so
		// the first one is always published.
		if !*always && f.FrameCount() > 0 && !consumers.Fresh(reg.Get().Any(), time.Now()) {
			if !idle {
				logger.Infof("No active consumers, pausing after %d frames", f.FrameCount())
				idle = true
			}
			continue
		}
		if idle {
			logger.Infof("Consumer active, resuming")
			idle = false
		}

		frame := f.FrameCount()
		desc := f.TextureDesc()
		ls := make([]feeder.Layer, *layers)
		for i := range ls {
			ls[i] = feeder.Layer{
				ID:       uint64(i + 1),
				DestRect: protocol.PixelRect{X: uint32(i) * desc.Width, Width: desc.Width, Height: desc.Height},
				Opacity:  1,
				Render:   feeder.Pattern(frame + uint64(i)),
			}
		}
		if err := f.Submit(cfg, ls); errors.Is(err, feeder.ErrClosed) {
			return
		} else if err != nil {
			logger.Errorf("Submitting frame %d: %v", frame, err)
		}
	}
	onexit.ForceExit(0)
}

// checkTextureSize validates the -width and -height flags before they are
// narrowed to the 32-bit sizes of the wire format.
func checkTextureSize(width, height uint) error {
	if width == 0 || width > maxTextureSize {
		return fmt.Errorf("-width must be in [1, %d], got %d", maxTextureSize, width)
	}
	if height == 0 || height > maxTextureSize {
		return fmt.Errorf("-height must be in [1, %d], got %d", maxTextureSize, height)
	}
	return nil
}
