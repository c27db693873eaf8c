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

// Package registry implements the process-wide table of live mutex
// references, deduplicating by identity so that every Handle obtained for
// the same identity in this process shares one internal/shm.File and one
// internal/robustlock.Lock.
package registry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jacobsa/namedmutex/internal/lockid"
	"github.com/jacobsa/namedmutex/internal/robustlock"
	"github.com/jacobsa/namedmutex/internal/shm"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// Reference is the process-local state shared by every Handle opened for
// one identity. Handles come and go; the Reference lives as long as at
// least one of them is open in this process.
type Reference struct {
	path string
	file *shm.File
	lock *robustlock.Lock

	// unnamed references are never entered into the global table: each
	// CreateUnnamed call produces one that only the Handles derived from
	// it can ever see.
	unnamed bool

	// refcount is the number of live Handles sharing this Reference in
	// this process.
	//
	// INVARIANT: refcount > 0
	refcount int // GUARDED_BY(global.mu)
}

// Handle is an opaque reference-counted handle to a mutex identity,
// analogous to a Win32 HANDLE returned from CreateMutex/OpenMutex: many
// Handles may back onto the same Reference, and each must be closed
// independently.
type Handle struct {
	ref *Reference
}

// WaitResult mirrors the outcomes of a wait on the underlying lock,
// translated one level up by namedmutex into its public WaitResult.
type WaitResult int

const (
	Acquired  WaitResult = iota // lock acquired cleanly
	Abandoned                   // lock acquired; previous owner never released
	TimedOut                    // timeout elapsed without acquiring
)

type table struct {
	mu     syncutil.InvariantMutex
	byPath map[string]*Reference // GUARDED_BY(mu)
}

var global = newTable()

func newTable() *table {
	t := &table{byPath: make(map[string]*Reference)}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *table) checkInvariants() {
	for path, ref := range t.byPath {
		if ref.path != path {
			panic(fmt.Sprintf("registry: ref.path %q != map key %q", ref.path, path))
		}
		if ref.refcount <= 0 {
			panic(fmt.Sprintf("registry: ref %q has non-positive refcount %d", path, ref.refcount))
		}
	}
}

// Create implements the create-or-open half of the registry contract: it
// returns a Handle to the identity named by (userScope, sessionScope,
// leaf), creating the
// backing reference if this is the first Handle to it anywhere. If
// initiallyOwned is true and this call is the one that brings the
// reference into existence, owner is granted the lock immediately, the
// same way Win32's CreateMutex(..., bInitialOwner=TRUE, ...) does — a call
// that merely opens an existing object never takes the lock on the
// caller's behalf.
func Create(
	logger *log.Logger,
	clock timeutil.Clock,
	owner lockid.Owner,
	userScope, sessionScope bool,
	leaf string,
	initiallyOwned bool) (h *Handle, alreadyExisted bool, err error) {
	path, err := shm.Path(userScope, sessionScope, leaf)
	if err != nil {
		err = fmt.Errorf("Path: %v", err)
		return
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if ref, ok := global.byPath[path]; ok {
		ref.refcount++
		h = &Handle{ref: ref}
		alreadyExisted = true
		return
	}

	file, created, err := shm.CreateOrOpen(logger, userScope, sessionScope, leaf)
	if err == shm.ErrInvalidHandle {
		// Returned unwrapped so that callers can compare against it.
		return
	}
	if err != nil {
		err = fmt.Errorf("CreateOrOpen: %v", err)
		return
	}
	alreadyExisted = !created

	lock := robustlock.New(logger, clock, file.Fd(), shm.ExclusionByte, file.DepthPtr())
	ref := &Reference{path: path, file: file, lock: lock, refcount: 1}
	global.byPath[path] = ref
	h = &Handle{ref: ref}

	if created && initiallyOwned {
		if _, lerr := lock.TryAcquire(owner); lerr != nil {
			err = fmt.Errorf("TryAcquire: %v", lerr)
		}
	}

	return
}

// CreateUnnamed returns a Handle to a fresh, process-local-only mutex with
// no backing file. It is never shared with any other call: the only way to
// obtain another Handle to the same Reference is to duplicate this one,
// which this package does not expose.
func CreateUnnamed(
	logger *log.Logger,
	clock timeutil.Clock,
	owner lockid.Owner,
	initiallyOwned bool) (h *Handle, err error) {
	file, err := shm.CreateAnonymous(logger)
	if err != nil {
		err = fmt.Errorf("CreateAnonymous: %v", err)
		return
	}

	lock := robustlock.New(logger, clock, file.Fd(), shm.ExclusionByte, file.DepthPtr())
	ref := &Reference{file: file, lock: lock, unnamed: true, refcount: 1}
	h = &Handle{ref: ref}

	if initiallyOwned {
		if _, lerr := lock.TryAcquire(owner); lerr != nil {
			err = fmt.Errorf("TryAcquire: %v", lerr)
		}
	}

	return
}

// Open implements the open-only half of the registry contract: it fails
// with shm.ErrNotFound if no reference for the identity exists anywhere
// yet.
func Open(
	logger *log.Logger,
	clock timeutil.Clock,
	userScope, sessionScope bool,
	leaf string) (h *Handle, err error) {
	path, err := shm.Path(userScope, sessionScope, leaf)
	if err != nil {
		err = fmt.Errorf("Path: %v", err)
		return
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if ref, ok := global.byPath[path]; ok {
		ref.refcount++
		h = &Handle{ref: ref}
		return
	}

	file, err := shm.OpenExisting(logger, userScope, sessionScope, leaf)
	if err != nil {
		return
	}

	lock := robustlock.New(logger, clock, file.Fd(), shm.ExclusionByte, file.DepthPtr())
	ref := &Reference{path: path, file: file, lock: lock, refcount: 1}
	global.byPath[path] = ref
	h = &Handle{ref: ref}

	return
}

// Wait blocks until h's lock is acquired by owner, is observed abandoned,
// or timeout (robustlock.Infinite for no bound, 0 for a poll) elapses.
func Wait(ctx context.Context, h *Handle, owner lockid.Owner, timeout time.Duration) (WaitResult, error) {
	outcome, err := h.ref.lock.TimedAcquire(ctx, owner, timeout)
	if err != nil {
		return TimedOut, err
	}

	switch outcome {
	case robustlock.Acquired:
		return Acquired, nil
	case robustlock.Abandoned:
		return Abandoned, nil
	default:
		return TimedOut, nil
	}
}

// Release releases one recursion level of h's lock on owner's behalf.
func Release(h *Handle, owner lockid.Owner) error {
	return h.ref.lock.Release(owner)
}

// Close drops h. If it is the last Handle to its Reference in this process
// and owner still holds the lock, Close marks the lock abandoned before the
// backing file is released, so the next acquirer — in this process or
// another — observes Abandoned rather than hanging forever behind a lock
// nobody will ever release.
func Close(h *Handle, owner lockid.Owner) (removed bool, err error) {
	ref := h.ref

	global.mu.Lock()
	ref.refcount--
	last := ref.refcount == 0
	if last && !ref.unnamed {
		delete(global.byPath, ref.path)
	}
	global.mu.Unlock()

	if !last {
		return false, nil
	}

	if ref.lock.IsHeldByOwner(owner) {
		ref.lock.MarkAbandoned(owner)
	}

	return ref.file.Close()
}
