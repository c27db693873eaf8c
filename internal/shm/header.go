// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shm

import "unsafe"

const (
	// KindMutex is the only shared-object kind this package understands.
	KindMutex byte = 0

	// CurrentVersion is the header version this package writes and expects
	// to read back.
	CurrentVersion byte = 1

	headerSize = 8
	bodySize   = int(unsafe.Sizeof(lockState{}))

	// FileSize is the fixed size of every backing file this package
	// creates.
	FileSize = headerSize + bodySize
)

// header is the first 8 bytes of a backing file: kind, version, then six
// reserved zero bytes.
type header struct {
	kind    byte
	version byte
	_       [6]byte
}

// lockState is the robust lock body embedded after the header. depth is
// read and written by internal/robustlock via an atomic pointer into the
// mapped file, so that it remains visible to every process with the file
// mapped, including one that dies while holding the lock.
type lockState struct {
	depth uint32
	_     uint32
}

func headerAt(mapping []byte) *header {
	return (*header)(unsafe.Pointer(&mapping[0]))
}

func lockStateAt(mapping []byte) *lockState {
	return (*lockState)(unsafe.Pointer(&mapping[headerSize]))
}

// depthPtr returns a pointer to the depth field suitable for use with
// sync/atomic, matching the layout internal/robustlock expects.
func depthPtr(mapping []byte) *uint32 {
	return &lockStateAt(mapping).depth
}
