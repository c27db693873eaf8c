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

// Identity is the tuple that uniquely names a mutex on this host. Two named
// mutexes are the same mutex iff their identities are equal; every unnamed
// mutex (empty Leaf) is distinct from every other, whatever its identity.
type Identity struct {
	// Restricts visibility to the current effective user, per the
	// current-user-only flag passed to Create/Open.
	UserScope bool

	// True unless the name carried a leading `Global\` prefix. False for an
	// unnamed mutex.
	SessionScope bool

	// The name with its scope prefix stripped. Empty for an unnamed mutex.
	Leaf string
}

// Unnamed reports whether id names a process-local, non-shared mutex.
func (id Identity) Unnamed() bool {
	return id.Leaf == ""
}
