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

// Package envconfig contains kneeboard IPC policy knobs that can be set
// through environment variables. Values are read once at process start.
package envconfig

import (
	"os"
	"strconv"
	"time"
)

var (
	// ReadRetries is the number of sequence-lock read attempts a consumer
	// makes per poll before reporting "no snapshot" for that poll.
	ReadRetries = int(uint64FromEnv("KNEEBOARD_SHM_READ_RETRIES", 8, 1, 1000))

	// FenceTimeout bounds how long a consumer waits on a producer fence
	// before treating the producer as unresponsive.
	FenceTimeout = durationFromEnv("KNEEBOARD_SHM_FENCE_TIMEOUT", 50*time.Millisecond, time.Millisecond, 10*time.Second)

	// ReattachInterval is the minimum delay between attempts to open a
	// missing header segment.
	ReattachInterval = durationFromEnv("KNEEBOARD_SHM_REATTACH_INTERVAL", time.Second, 0, time.Minute)

	// SHMDir overrides the directory shared-memory segment files live in.
	// Empty means /dev/shm when available, else os.TempDir().
	SHMDir = os.Getenv("KNEEBOARD_SHM_DIR")
)

func uint64FromEnv(envVar string, def, min, max uint64) uint64 {
	v, err := strconv.ParseUint(os.Getenv(envVar), 10, 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func durationFromEnv(envVar string, def, min, max time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(envVar))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
