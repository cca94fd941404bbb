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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/envconfig"
)

// ProjectID is the reverse-domain identifier every segment name starts with.
const ProjectID = "com.openkneeboard"

// SegmentName returns the name of the segment holding a structure of size
// bytes for the given protocol version, e.g. "com.openkneeboard/3-s290".
func SegmentName(project string, version uint32, size uintptr) string {
	return fmt.Sprintf("%s/%d-s%x", project, version, size)
}

// SubSegmentName returns the name of an auxiliary segment that lives
// alongside the versioned main segment, e.g.
// "com.openkneeboard/3/ActiveConsumers-s48".
func SubSegmentName(project string, version uint32, kind string, size uintptr) string {
	return fmt.Sprintf("%s/%d/%s-s%x", project, version, kind, size)
}

// SegmentPath maps a segment name to the backing file path.
func SegmentPath(name string) string {
	return filepath.Join(segmentDir(), fileName(name))
}

func fileName(name string) string {
	return strings.NewReplacer("/", ".", `\`, ".").Replace(name)
}

func segmentDir() string {
	if envconfig.SHMDir != "" {
		return envconfig.SHMDir
	}
	if isDevShmAvailable() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}
