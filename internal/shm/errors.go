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

import "errors"

// ErrInvalidHandle is returned when an existing backing file's header does
// not match the kind and version this package expects.
var ErrInvalidHandle = errors.New("shm: backing file has an unrecognized header")

// ErrNotFound is returned by OpenExisting when no backing file exists for
// the requested identity.
var ErrNotFound = errors.New("shm: no backing file for this identity")
