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

package shm

import (
	"errors"
	"os"
	"unsafe"

	"google.golang.org/grpc/grpclog"
)

var logger = grpclog.Component("kneeboard-shm")

// Platform-specific functions (implemented in platform-specific files)
var (
	// unmapMemory unmaps a memory-mapped region
	unmapMemory func([]byte) error
)

// Segment represents a mapped shared memory segment
type Segment struct {
	File     *os.File // File backing the shared memory
	Mem      []byte   // Memory-mapped region
	Name     string   // Segment name as passed by the caller
	Path     string   // File path
	Created  bool     // True if this process created (and zero-filled) the segment
	ReadOnly bool     // True if the mapping is PROT_READ only
}

// Base returns a pointer to the first byte of the mapping.
func (s *Segment) Base() unsafe.Pointer {
	return unsafe.Pointer(&s.Mem[0])
}

// Size returns the size of the mapping in bytes.
func (s *Segment) Size() int {
	return len(s.Mem)
}

// Close unmaps the memory and closes the file. The backing file is left in
// place so other attached processes keep working.
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}

	return firstErr
}

// RemoveSegment removes a shared memory segment file. Existing mappings stay
// valid; the next CreateOrOpen creates a fresh zero-filled segment.
func RemoveSegment(name string) error {
	err := os.Remove(SegmentPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotExist
	}
	return err
}

// SegmentExists checks if a shared memory segment exists
func SegmentExists(name string) bool {
	_, err := os.Stat(SegmentPath(name))
	return err == nil
}

// SegmentSize returns the size in bytes of an existing segment. Importers
// use it for segments whose size is recorded only in their own header.
func SegmentSize(name string) (int, error) {
	info, err := os.Stat(SegmentPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotExist
	}
	if err != nil {
		return 0, err
	}
	return int(info.Size()), nil
}
