//go:build unix

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
	"fmt"
	"os"

	"github.com/docker/go-units"
	"golang.org/x/sys/unix"
)

func init() {
	unmapMemory = munmapImpl
}

// CreateOrOpen opens the named segment read-write, creating it with size
// zero-filled bytes if it does not exist yet. Segment.Created reports which
// of the two happened.
func CreateOrOpen(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", size)
	}
	path := SegmentPath(name)

	created := true
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if errors.Is(err, os.ErrExist) {
		created = false
		file, err = os.OpenFile(path, os.O_RDWR, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		if created {
			os.Remove(path)
		}
	}

	if created {
		if err := file.Truncate(int64(size)); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to resize segment file: %w", err)
		}
	} else if err := checkSize(file, size, true); err != nil {
		cleanup()
		return nil, err
	}

	mem, err := mmapFile(file, size, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	if created {
		logger.Infof("Created segment %s (%s)", path, units.BytesSize(float64(size)))
	}
	return &Segment{
		File:    file,
		Mem:     mem,
		Name:    name,
		Path:    path,
		Created: created,
	}, nil
}

// OpenReadOnly maps an existing segment read-only. It returns an error
// wrapping ErrNotExist if the segment has not been created, and one wrapping
// ErrSizeMismatch if it exists with a different size.
func OpenReadOnly(name string, size int) (*Segment, error) {
	path := SegmentPath(name)

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	if err := checkSize(file, size, false); err != nil {
		file.Close()
		return nil, err
	}

	mem, err := mmapFile(file, size, unix.PROT_READ)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	return &Segment{
		File:     file,
		Mem:      mem,
		Name:     name,
		Path:     path,
		ReadOnly: true,
	}, nil
}

// checkSize verifies the file backing a segment is exactly size bytes. A
// writable opener that finds an empty file lost a race with the creator
// between O_EXCL and Truncate; it finishes the resize itself, which is
// idempotent.
func checkSize(file *os.File, size int, writable bool) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat segment file: %w", err)
	}
	got := info.Size()
	if got == 0 && writable {
		if err := file.Truncate(int64(size)); err != nil {
			return fmt.Errorf("failed to resize segment file: %w", err)
		}
		return nil
	}
	if got != int64(size) {
		return fmt.Errorf("%s is %d bytes, want %d: %w", file.Name(), got, size, ErrSizeMismatch)
	}
	return nil
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int, prot int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// munmapImpl unmaps a memory-mapped region
func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
