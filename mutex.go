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
	"sync"

	"github.com/jacobsa/namedmutex/internal/registry"
	"github.com/jacobsa/namedmutex/internal/shm"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"
)

// Mutex is a handle to a (possibly cross-process) mutex identified by an
// Identity. Multiple Mutex values, in this process or another, may refer
// to the same underlying lock; each must be closed independently.
//
// A Mutex remembers the Owner that most recently acquired the lock through
// it, the way an auto-closing handle scopes itself to the thread that
// opened it; Close uses that remembered Owner to decide whether the lock
// is being abandoned.
type Mutex struct {
	id Identity
	h  *registry.Handle

	mu        sync.Mutex
	lastOwner Owner // GUARDED_BY(mu)
}

// Identity returns the identity this handle was created or opened for.
func (m *Mutex) Identity() Identity {
	return m.id
}

func (m *Mutex) recordOwner(owner Owner) {
	m.mu.Lock()
	m.lastOwner = owner
	m.mu.Unlock()
}

func (m *Mutex) rememberedOwner() Owner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOwner
}

// Create resolves name to an Identity and returns a handle to it, creating
// the backing reference if none already exists anywhere on the host. If
// initiallyOwned is true and this call is the one that brings the mutex
// into existence, the mutex is acquired on the caller's behalf atomically
// with creation, the way Win32's CreateMutex does with bInitialOwner.
//
// alreadyExisted reports whether a reference to this identity already
// existed, whether in this process or another; it is the caller's
// ALREADY_EXISTS side channel and must be read
// immediately after the call returns, since nothing else carries it.
func Create(ctx context.Context, name string, userScopeOnly, initiallyOwned bool) (m *Mutex, alreadyExisted bool, err error) {
	ctx, report := reqtrace.StartSpan(ctx, "namedmutex.Create")
	defer func() { report(err) }()

	id, err := ParseName(name, userScopeOnly)
	if err != nil {
		return
	}

	owner, ok := OwnerFromContext(ctx)
	if !ok {
		_, owner = NewOwnerContext(ctx)
	}

	var h *registry.Handle
	if id.Unnamed() {
		h, err = registry.CreateUnnamed(getLogger(), timeutil.RealClock(), owner, initiallyOwned)
	} else {
		h, alreadyExisted, err = registry.Create(
			getLogger(),
			timeutil.RealClock(),
			owner,
			id.UserScope,
			id.SessionScope,
			id.Leaf,
			initiallyOwned)
	}

	if err == shm.ErrInvalidHandle {
		err = ErrInvalidHandle
	}
	if err != nil {
		return
	}

	m = &Mutex{id: id}
	m.h = h
	if initiallyOwned && !alreadyExisted {
		m.recordOwner(owner)
	}
	return
}

// Open resolves name to an Identity and returns a handle to its existing
// backing reference, failing with ErrNotFound if none exists anywhere on
// the host yet.
func Open(ctx context.Context, name string, userScopeOnly bool) (m *Mutex, err error) {
	id, err := ParseName(name, userScopeOnly)
	if err != nil {
		return
	}

	if id.Unnamed() {
		err = ErrNotFound
		return
	}

	h, err := registry.Open(getLogger(), timeutil.RealClock(), id.UserScope, id.SessionScope, id.Leaf)
	switch err {
	case nil:
	case shm.ErrNotFound:
		err = ErrNotFound
		return
	case shm.ErrInvalidHandle:
		err = ErrInvalidHandle
		return
	default:
		return
	}

	m = &Mutex{id: id, h: h}
	return
}

// Release releases one level of recursion on the context's Owner's behalf.
// It returns ErrNotOwner if that Owner does not currently hold the lock.
func (m *Mutex) Release(ctx context.Context) (err error) {
	ctx, report := reqtrace.StartSpan(ctx, "namedmutex.Release")
	defer func() { report(err) }()

	owner, ok := OwnerFromContext(ctx)
	if !ok {
		err = ErrNotOwner
		return
	}

	if rerr := registry.Release(m.h, owner); rerr != nil {
		err = ErrNotOwner
		return
	}

	m.recordOwner(owner)
	return
}

// Close drops this handle. If it is the last handle to the identity in
// this process and the Owner that last acquired through it still holds
// the lock without having released, the lock is marked abandoned before
// the backing reference is released, so the next acquirer observes
// Abandoned rather than blocking forever behind a lock nobody will ever
// release.
func (m *Mutex) Close() error {
	_, err := registry.Close(m.h, m.rememberedOwner())
	return err
}
