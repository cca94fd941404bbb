/*
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
 */

// Package shm provides named shared-memory segments and the futex
// primitives used to wait on words inside them.
//
// Segments are plain files under /dev/shm (or the temporary directory when
// /dev/shm is unavailable) mapped MAP_SHARED into every attached process.
// Names are derived from a project identifier, a protocol version and the
// byte size of the structure stored in the segment, so a rebuild with a
// different layout never attaches to a segment written by an older one.
//
// Segments are never removed during normal operation: they persist while
// any process holds a mapping, and a segment created by a previous run is
// reused as-is.
package shm
