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
	"fmt"
	"strings"
)

//go:generate go tool stringer -type=ConsumerKind -trimprefix=ConsumerKind

// ConsumerKind identifies a class of consumer. Each kind owns one liveness
// slot in the ActiveConsumers registry.
type ConsumerKind uint32

const (
	ConsumerKindOpenVR      ConsumerKind = iota + 1 // SteamVR overlay
	ConsumerKindOpenXR                              // OpenXR API layer
	ConsumerKindOculusD3D11                         // Oculus SDK, D3D11 game
	ConsumerKindOculusD3D12                         // Oculus SDK, D3D12 game
	ConsumerKindNonVRD3D11                          // in-game overlay hook without VR
	ConsumerKindViewer                              // standalone viewer

	consumerKindEnd
)

// AllConsumerKinds lists every kind in wire order.
var AllConsumerKinds = []ConsumerKind{
	ConsumerKindOpenVR,
	ConsumerKindOpenXR,
	ConsumerKindOculusD3D11,
	ConsumerKindOculusD3D12,
	ConsumerKindNonVRD3D11,
	ConsumerKindViewer,
}

// Valid reports whether k is one of the defined kinds.
func (k ConsumerKind) Valid() bool {
	return k >= ConsumerKindOpenVR && k < consumerKindEnd
}

// IsVR reports whether k renders into a VR compositor.
func (k ConsumerKind) IsVR() bool {
	switch k {
	case ConsumerKindOpenVR, ConsumerKindOpenXR, ConsumerKindOculusD3D11, ConsumerKindOculusD3D12:
		return true
	}
	return false
}

// Mask returns the bit used for k in a ConsumerPattern. The viewer shows
// whatever it is given, so it has every bit set.
func (k ConsumerKind) Mask() uint32 {
	if k == ConsumerKindViewer {
		return ^uint32(0)
	}
	if !k.Valid() {
		return 0
	}
	return 1 << (k - 1)
}

// ConsumerPattern selects which consumer kinds a frame is intended for.
// The zero pattern matches every kind.
type ConsumerPattern uint32

// PatternFor returns a pattern requiring all of kinds.
func PatternFor(kinds ...ConsumerKind) ConsumerPattern {
	var p ConsumerPattern
	for _, k := range kinds {
		p |= ConsumerPattern(k.Mask())
	}
	return p
}

// Matches reports whether a consumer of kind k should display the frame.
func (p ConsumerPattern) Matches(k ConsumerKind) bool {
	return uint32(p)&k.Mask() == uint32(p)
}

// ParseConsumerKind returns the kind whose name equals s, ignoring case.
func ParseConsumerKind(s string) (ConsumerKind, error) {
	for _, k := range AllConsumerKinds {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown consumer kind %q", s)
}
