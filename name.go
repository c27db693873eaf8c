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

import "strings"

const (
	globalPrefix = `Global\`
	localPrefix  = `Local\`

	// A leaf of this length is guaranteed to succeed; one byte longer is
	// guaranteed to fail with ErrNameTooLong, regardless of how long a
	// path the host's file system would actually tolerate.
	maxLeafLen = 256
)

// ParseName resolves a user-supplied name into an Identity, applying the
// scope-prefix and leaf-validation rules of the naming contract. An empty
// name resolves to the unnamed, process-local Identity.
func ParseName(name string, userScopeOnly bool) (id Identity, err error) {
	if name == "" {
		id = Identity{UserScope: userScopeOnly}
		return
	}

	sessionScope := true
	leaf := name

	switch {
	case strings.HasPrefix(name, globalPrefix):
		sessionScope = false
		leaf = name[len(globalPrefix):]

	case strings.HasPrefix(name, localPrefix):
		sessionScope = true
		leaf = name[len(localPrefix):]
	}

	if leaf == "" || strings.ContainsAny(leaf, `/\`) {
		err = ErrInvalidName
		return
	}

	if len(leaf) > maxLeafLen {
		err = ErrNameTooLong
		return
	}

	id = Identity{
		UserScope:    userScopeOnly,
		SessionScope: sessionScope,
		Leaf:         leaf,
	}

	return
}
