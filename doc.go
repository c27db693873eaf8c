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

// Package namedmutex provides a cross-process named mutex: mutual exclusion
// between threads of possibly distinct processes on a single host.
//
// The primary elements of interest are:
//
//  *  Create and Open, which resolve a name to a host-wide shared Mutex.
//
//  *  Mutex.Wait, Mutex.Release and Mutex.Close, the operations on a handle.
//
//  *  Owner, an opaque token identifying the logical thread that holds a
//     lock, carried through a context.Context with NewOwnerContext.
//
// A mutex created with an empty name has no backing file and is visible only
// within this process, shared only by handles derived from the same Create
// call.
package namedmutex
