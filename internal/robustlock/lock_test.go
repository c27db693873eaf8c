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

package robustlock

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/jacobsa/namedmutex/internal/lockid"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"
)

// newTestLock returns a Lock backed by a fresh memfd, along with a cleanup
// func. Using a real fd (rather than a fake) exercises the actual
// fcntl(2) byte-range locking this package depends on.
func newTestLock(t *testing.T) (*Lock, func()) {
	t.Helper()

	fd, err := unix.MemfdCreate("robustlock_test", 0)
	if err != nil {
		t.Fatalf("MemfdCreate: %v", err)
	}
	if err := unix.Ftruncate(fd, 8); err != nil {
		t.Fatalf("Ftruncate: %v", err)
	}

	mapping, err := unix.Mmap(fd, 0, 8, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	depth := (*uint32)(unsafe.Pointer(&mapping[0]))
	lock := New(nil, timeutil.RealClock(), fd, 0, depth)

	cleanup := func() {
		unix.Munmap(mapping)
		unix.Close(fd)
	}

	return lock, cleanup
}

func TestTryAcquire_UncontendedThenRecursive(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	owner := lockid.New()

	outcome, err := lock.TryAcquire(owner)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if outcome != Acquired {
		t.Fatalf("got %v, want Acquired", outcome)
	}

	outcome, err = lock.TryAcquire(owner)
	if err != nil {
		t.Fatalf("recursive TryAcquire: %v", err)
	}
	if outcome != Acquired {
		t.Fatalf("recursive: got %v, want Acquired", outcome)
	}
}

func TestTryAcquire_DifferentOwnerBlocked(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()
	b := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("TryAcquire(a): %v", err)
	}

	outcome, err := lock.TryAcquire(b)
	if err != nil {
		t.Fatalf("TryAcquire(b): %v", err)
	}
	if outcome != TimedOut {
		t.Fatalf("got %v, want TimedOut", outcome)
	}
}

func TestRelease_WrongOwnerFails(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()
	b := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	if err := lock.Release(b); err != ErrNotOwner {
		t.Fatalf("Release(b): got %v, want ErrNotOwner", err)
	}
}

func TestRelease_DropsToZeroThenUnblocks(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()
	b := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("TryAcquire(a): %v", err)
	}
	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("recursive TryAcquire(a): %v", err)
	}

	// One Release only drops one recursion level; b should still be
	// blocked.
	if err := lock.Release(a); err != nil {
		t.Fatalf("first Release(a): %v", err)
	}
	outcome, err := lock.TryAcquire(b)
	if err != nil {
		t.Fatalf("TryAcquire(b) after one Release: %v", err)
	}
	if outcome != TimedOut {
		t.Fatalf("got %v, want TimedOut", outcome)
	}

	if err := lock.Release(a); err != nil {
		t.Fatalf("second Release(a): %v", err)
	}

	outcome, err = lock.TryAcquire(b)
	if err != nil {
		t.Fatalf("TryAcquire(b) after fully released: %v", err)
	}
	if outcome != Acquired {
		t.Fatalf("got %v, want Acquired", outcome)
	}
}

func TestMarkAbandoned_NextAcquirerObservesAbandoned(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()
	b := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("TryAcquire(a): %v", err)
	}

	lock.MarkAbandoned(a)

	outcome, err := lock.TryAcquire(b)
	if err != nil {
		t.Fatalf("TryAcquire(b): %v", err)
	}
	if outcome != Abandoned {
		t.Fatalf("got %v, want Abandoned", outcome)
	}
}

func TestMarkAbandoned_NoopForNonHolder(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()
	b := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("TryAcquire(a): %v", err)
	}

	lock.MarkAbandoned(b)

	if !lock.IsHeldByOwner(a) {
		t.Error("a's ownership should be unaffected by MarkAbandoned(b)")
	}
}

func TestTimedAcquire_ZeroTimeoutNeverBlocks(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()
	b := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("TryAcquire(a): %v", err)
	}

	start := time.Now()
	outcome, err := lock.TimedAcquire(context.Background(), b, 0)
	if err != nil {
		t.Fatalf("TimedAcquire: %v", err)
	}
	if outcome != TimedOut {
		t.Fatalf("got %v, want TimedOut", outcome)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("a zero timeout should return immediately, took %v", elapsed)
	}
}

func TestTimedAcquire_UnblocksOnInProcessRelease(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()
	b := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("TryAcquire(a): %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		outcome, err := lock.TimedAcquire(context.Background(), b, Infinite)
		if err != nil {
			t.Errorf("TimedAcquire(b): %v", err)
			return
		}
		if outcome != Acquired {
			t.Errorf("got %v, want Acquired", outcome)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := lock.Release(a); err != nil {
		t.Fatalf("Release(a): %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("b's TimedAcquire did not unblock after a's Release")
	}
}

func TestTimedAcquire_ContextCancellation(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()
	b := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("TryAcquire(a): %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome, err := lock.TimedAcquire(ctx, b, Infinite)
	if outcome != TimedOut {
		t.Errorf("got %v, want TimedOut", outcome)
	}
	if err != context.Canceled {
		t.Errorf("got err %v, want context.Canceled", err)
	}
}

func TestDepthOverflow(t *testing.T) {
	lock, cleanup := newTestLock(t)
	defer cleanup()

	a := lockid.New()

	if _, err := lock.TryAcquire(a); err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}

	*lock.depth = maxDepth

	if _, err := lock.TryAcquire(a); err != ErrDepthOverflow {
		t.Fatalf("got err %v, want ErrDepthOverflow", err)
	}
}
