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

package feeder

import (
	"encoding/binary"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
)

// Pattern returns a RenderFunc drawing a BGRA test card for frame: a grey
// background whose first pixel holds the low 32 bits of frame, and a
// vertical bar that moves one column per frame.
func Pattern(frame uint64) RenderFunc {
	return func(pixels []byte, desc gpu.TextureDesc) {
		if desc.Format != gpu.FormatBGRA8 || desc.Width == 0 {
			return
		}
		stride := int(desc.Width) * 4
		bar := int(frame % uint64(desc.Width))
		for y := 0; y < int(desc.Height); y++ {
			row := pixels[y*stride : (y+1)*stride]
			for x := 0; x < int(desc.Width); x++ {
				px := row[x*4 : x*4+4]
				if x == bar {
					px[0], px[1], px[2], px[3] = 0x00, 0xFF, 0x00, 0xFF
				} else {
					px[0], px[1], px[2], px[3] = 0x40, 0x40, 0x40, 0xFF
				}
			}
		}
		binary.LittleEndian.PutUint32(pixels, uint32(frame))
	}
}

// PatternFrame returns the frame number stamped by Pattern.
func PatternFrame(pixels []byte) uint32 {
	if len(pixels) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(pixels)
}
