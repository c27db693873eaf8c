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

// Package lockid tracks the identity of the logical "thread" that owns a
// recursive lock.
//
// Go does not expose OS thread identity to library code the way a
// Win32/pthread thread ID would. Instead an Owner is an opaque token minted
// once per logical thread and threaded through a context.Context by the
// caller, the same way a request-scoped op ID gets stashed under a context
// key and passed down a call chain.
package lockid

import (
	"context"
	"sync/atomic"
)

// Owner identifies the logical thread that holds or is attempting to
// acquire a lock. The zero Owner never matches a minted one.
type Owner uint64

var nextOwner uint64

// New mints a fresh Owner, distinct from every other Owner minted in this
// process.
func New() Owner {
	return Owner(atomic.AddUint64(&nextOwner, 1))
}

type contextKeyType int

var contextKey interface{} = contextKeyType(0)

// NewContext returns a context carrying a freshly minted Owner, along with
// the Owner itself.
func NewContext(parent context.Context) (context.Context, Owner) {
	owner := New()
	return context.WithValue(parent, contextKey, owner), owner
}

// FromContext returns the Owner stashed in ctx by NewContext, if any.
func FromContext(ctx context.Context) (Owner, bool) {
	owner, ok := ctx.Value(contextKey).(Owner)
	return owner, ok
}

// FromContextOrNew returns the Owner stashed in ctx, minting and returning a
// fresh one if ctx carries none. The returned context should be used for
// any follow-up call that must be recognized as the same owner.
func FromContextOrNew(ctx context.Context) (context.Context, Owner) {
	if owner, ok := FromContext(ctx); ok {
		return ctx, owner
	}
	return NewContext(ctx)
}
