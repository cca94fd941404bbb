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

package main

import (
	"testing"
)

func TestCheckTextureSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height uint
		wantErr       bool
	}{
		{name: "default", width: 1024, height: 1024},
		{name: "largest", width: maxTextureSize, height: maxTextureSize},
		{name: "zero width", width: 0, height: 1024, wantErr: true},
		{name: "zero height", width: 1024, height: 0, wantErr: true},
		{name: "too wide", width: maxTextureSize + 1, height: 1024, wantErr: true},
		{name: "max uint width", width: ^uint(0), height: 1024, wantErr: true},
		{name: "max uint height", width: 1024, height: ^uint(0), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTextureSize(tt.width, tt.height)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkTextureSize(%d, %d) = %v, want error %v", tt.width, tt.height, err, tt.wantErr)
			}
		})
	}
}
