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

package gpu

import "testing"

func TestTextureDescByteSize(t *testing.T) {
	tests := []struct {
		desc TextureDesc
		want int
	}{
		{TextureDesc{Width: 1024, Height: 768, Format: FormatBGRA8}, 1024 * 768 * 4},
		{TextureDesc{Width: 1, Height: 1, Format: FormatBGRA8}, 4},
		{TextureDesc{Width: 16, Height: 16}, 0},
	}
	for _, tt := range tests {
		if got := tt.desc.ByteSize(); got != tt.want {
			t.Errorf("%+v.ByteSize() = %d, want %d", tt.desc, got, tt.want)
		}
	}
}

func TestModelString(t *testing.T) {
	for m, want := range map[Model]string{
		ImportModel: "import",
		CopyModel:   "copy",
		Model(9):    "Model(9)",
	} {
		if got := m.String(); got != want {
			t.Errorf("Model(%d).String() = %q, want %q", int(m), got, want)
		}
	}
}
