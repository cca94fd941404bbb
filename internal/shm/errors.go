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

import "errors"

var (
	// ErrNotExist is returned when opening a segment nobody has created.
	ErrNotExist = errors.New("shm: segment does not exist")

	// ErrSizeMismatch is returned when an existing segment does not have
	// the size the caller expects.
	ErrSizeMismatch = errors.New("shm: segment size mismatch")

	// ErrFutexTimeout is returned by FutexWait when the wait times out.
	ErrFutexTimeout = errors.New("shm: futex timeout")

	// ErrUnsupported is returned on platforms without shared-memory mapping.
	ErrUnsupported = errors.New("shm: not supported on this platform")
)
