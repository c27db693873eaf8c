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

// Package robustlock implements a process-shared, recursive, robust
// lock embedded in a shared file.
//
// There is no portable OS-provided robust pthread mutex available to
// cgo-free Go code, so this package builds one out of a POSIX record lock
// (fcntl F_SETLK/F_SETLKW) held by the owning process over one byte of the
// backing file, combined with a recursion depth counter that lives in
// memory shared across processes (mapped by internal/shm). The kernel
// releases a process's record locks the instant it exits for any reason,
// crash included, which is what makes the next acquirer's view of a
// non-zero leftover depth a reliable abandonment signal.
package robustlock

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/namedmutex/internal/lockid"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"
)

// Outcome is the result of an acquire attempt.
type Outcome int

const (
	Acquired Outcome = iota
	Abandoned
	TimedOut
)

// Infinite is the sentinel timeout meaning "wait with no upper bound".
const Infinite = time.Duration(-1)

// ErrNotOwner is returned by Release when the calling Owner does not hold
// the lock.
var ErrNotOwner = errors.New("robustlock: caller does not own the lock")

// ErrDepthOverflow is returned when a recursive acquire would overflow the
// depth counter. Reentrancy otherwise never fails.
var ErrDepthOverflow = errors.New("robustlock: recursion depth overflow")

const maxDepth = ^uint32(0)

// pollInterval bounds how often an acquire that is blocked by another
// process re-attempts the record lock. There is no portable way to block
// on an fcntl lock with a deadline, so this package polls. In-process
// contention does not pay this cost: it is woken immediately via
// releasedCh.
const pollInterval = 2 * time.Millisecond

// Lock is the in-process view of one mutex's robust lock body. It is safe
// for concurrent use by multiple goroutines within this process; exactly
// one Lock exists per (process, identity), shared by every handle that
// references the identity, the same way internal/shm.File is shared.
type Lock struct {
	logger *log.Logger
	clock  timeutil.Clock

	fd     int
	depth  *uint32 // shared across processes via mmap
	offset int64   // byte record-locked on fd

	mu         sync.Mutex
	holder     lockid.Owner
	haveHolder bool
	releasedCh chan struct{} // closed and replaced whenever this process drops the lock
}

// New wraps the record-lock byte at offset on fd and the shared recursion
// counter at depth into a Lock. depth must point into memory mapped
// MAP_SHARED over the same backing file fd refers to.
func New(logger *log.Logger, clock timeutil.Clock, fd int, offset int64, depth *uint32) *Lock {
	return &Lock{
		logger:     logger,
		clock:      clock,
		fd:         fd,
		depth:      depth,
		offset:     offset,
		releasedCh: make(chan struct{}),
	}
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *Lock) TryAcquire(owner lockid.Owner) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tryAcquireLocked(owner)
}

// tryAcquireLocked requires l.mu held. It never blocks on I/O.
func (l *Lock) tryAcquireLocked(owner lockid.Owner) (Outcome, error) {
	if l.haveHolder {
		if l.holder == owner {
			depth := atomic.LoadUint32(l.depth)
			if depth == maxDepth {
				return 0, ErrDepthOverflow
			}
			atomic.StoreUint32(l.depth, depth+1)
			return Acquired, nil
		}
		return TimedOut, nil
	}

	err := fcntlTryLock(l.fd, l.offset)
	if isWouldBlock(err) {
		return TimedOut, nil
	}
	if err != nil {
		return 0, err
	}

	l.haveHolder = true
	l.holder = owner

	prevDepth := atomic.LoadUint32(l.depth)
	atomic.StoreUint32(l.depth, 1)
	if prevDepth > 0 {
		// The previous holder's record lock is gone (the OS released it
		// when that process exited or closed every fd on the file) while
		// depth was still nonzero: it never released cleanly.
		return Abandoned, nil
	}

	return Acquired, nil
}

// TimedAcquire acquires the lock, waiting up to timeout (Infinite for no
// upper bound, 0 for no wait at all).
func (l *Lock) TimedAcquire(ctx context.Context, owner lockid.Owner, timeout time.Duration) (Outcome, error) {
	if timeout == 0 {
		return l.TryAcquire(owner)
	}

	var deadline time.Time
	bounded := timeout != Infinite
	if bounded {
		deadline = l.clock.Now().Add(timeout)
	}

	for {
		l.mu.Lock()
		outcome, err := l.tryAcquireLocked(owner)
		waitCh := l.releasedCh
		l.mu.Unlock()

		if err != nil || outcome != TimedOut {
			return outcome, err
		}

		waitFor := pollInterval
		if bounded {
			remaining := deadline.Sub(l.clock.Now())
			if remaining <= 0 {
				return TimedOut, nil
			}
			if remaining < waitFor {
				waitFor = remaining
			}
		}

		timer := time.NewTimer(waitFor)
		select {
		case <-waitCh:
			// Another goroutine in this process released; retry now.
			timer.Stop()

		case <-timer.C:
			// Either a poll tick (cross-process contention) or, if
			// bounded, the deadline itself; the loop head decides which.

		case <-ctx.Done():
			timer.Stop()
			return TimedOut, ctx.Err()
		}
	}
}

// Release releases one level of recursion, unlocking the underlying record
// lock once depth reaches zero. It fails with ErrNotOwner if owner is not
// the current holder.
func (l *Lock) Release(owner lockid.Owner) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.haveHolder || l.holder != owner {
		return ErrNotOwner
	}

	depth := atomic.LoadUint32(l.depth)
	depth--
	atomic.StoreUint32(l.depth, depth)

	if depth == 0 {
		if err := fcntlUnlock(l.fd, l.offset); err != nil {
			return err
		}
		l.dropHolderLocked()
	}

	return nil
}

// MarkAbandoned is called by internal/registry when the last handle
// referencing this lock closes in this process while owner still holds it
// without having released. It drops the record lock but leaves depth
// untouched (nonzero), so the next successful acquirer — in this process
// or another — observes Abandoned.
func (l *Lock) MarkAbandoned(owner lockid.Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.haveHolder || l.holder != owner {
		return
	}

	if err := fcntlUnlock(l.fd, l.offset); err != nil && l.logger != nil {
		l.logger.Printf("robustlock: unlock on abandon: %v", err)
	}
	l.dropHolderLocked()
}

// dropHolderLocked requires l.mu held.
func (l *Lock) dropHolderLocked() {
	l.haveHolder = false
	close(l.releasedCh)
	l.releasedCh = make(chan struct{})
}

// IsHeldByOwner reports whether owner is the current in-process holder.
// Used by internal/registry to decide whether a handle close should mark
// the lock abandoned.
func (l *Lock) IsHeldByOwner(owner lockid.Owner) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.haveHolder && l.holder == owner
}

func isWouldBlock(err error) bool {
	return err == unix.EWOULDBLOCK || err == unix.EACCES || err == unix.EAGAIN
}

func fcntlTryLock(fd int, offset int64) error {
	lk := unix.Flock_t{Type: unix.F_WRLCK, Start: offset, Len: 1}
	return unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &lk)
}

func fcntlUnlock(fd int, offset int64) error {
	lk := unix.Flock_t{Type: unix.F_UNLCK, Start: offset, Len: 1}
	return unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &lk)
}
