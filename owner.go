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

import (
	"context"

	"github.com/jacobsa/namedmutex/internal/lockid"
)

// Owner identifies the logical thread that holds or is attempting to
// acquire a lock. Two calls sharing the same Owner are treated as the same
// thread for recursion and release-by-owner purposes; every other Owner is
// a stranger.
type Owner = lockid.Owner

// NewOwnerContext returns a context carrying a freshly minted Owner that no
// other call has seen. Thread the returned context through every Wait and
// Release call that should be recognized as the same logical thread.
func NewOwnerContext(ctx context.Context) (context.Context, Owner) {
	return lockid.NewContext(ctx)
}

// OwnerFromContext returns the Owner stashed in ctx by NewOwnerContext, if
// any.
func OwnerFromContext(ctx context.Context) (Owner, bool) {
	return lockid.FromContext(ctx)
}
