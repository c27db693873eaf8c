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

package namedmutex

import "errors"

// Errors returned by this package. Names mirror the semantic error codes of
// the API contract, not any particular OS's errno space.
var (
	// The supplied name failed validation: after its scope prefix was
	// stripped it was empty or contained a path separator.
	ErrInvalidName = errors.New("namedmutex: invalid name")

	// The name's leaf, after its scope prefix was stripped, is longer than
	// 256 bytes.
	ErrNameTooLong = errors.New("namedmutex: name exceeds the host's path limit")

	// An existing backing file had an unexpected kind or version byte.
	ErrInvalidHandle = errors.New("namedmutex: backing file has an unrecognized header")

	// Release was called by a thread that does not own the lock.
	ErrNotOwner = errors.New("namedmutex: caller does not own the lock")

	// Open found no live reference to the requested identity.
	ErrNotFound = errors.New("namedmutex: no such mutex is open")

	// A wait call that is not supported, e.g. a multi-object wait that
	// includes a named mutex.
	ErrNotSupported = errors.New("namedmutex: operation not supported for a named mutex")

	// A lower-level primitive failed unexpectedly. The object remains
	// usable; the caller's specific call failed.
	ErrFailed = errors.New("namedmutex: internal failure")
)
