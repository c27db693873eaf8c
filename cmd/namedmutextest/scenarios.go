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

package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/jacobsa/namedmutex"
	"github.com/jacobsa/namedmutex/internal/shm"
)

type scenario struct {
	name string
	run  func(userScope, sessionScope bool) error
}

var scenarios = []scenario{
	{"recursive-lock-and-timeout", recursiveLockAndTimeout},
	{"cross-process-lifetime", crossProcessLifetime},
	{"abandon-on-graceful-close", abandonOnGracefulClose},
	{"abandon-on-abrupt-kill", abandonOnAbruptKill},
	{"file-locks-not-inherited", fileLocksNotInherited},
	{"header-mismatch", headerMismatch},
}

// recursiveLockAndTimeout exercises a fresh mutex: it is
// acquired three times recursively by one owner and released three times,
// a fourth Release fails with ErrNotOwner, and while the first owner holds
// it a second owner's Wait(0) times out and its Release fails with
// ErrNotOwner.
func recursiveLockAndTimeout(userScope, sessionScope bool) error {
	name := fmt.Sprintf("namedmutextest-recursive-%d", os.Getpid())

	ctxA, _ := namedmutex.NewOwnerContext(context.Background())
	m, _, err := namedmutex.Create(ctxA, name, userScope, false)
	if err != nil {
		return fmt.Errorf("Create: %v", err)
	}
	defer m.Close()

	for i := 0; i < 3; i++ {
		result, err := m.Wait(ctxA, 0)
		if err != nil || result == namedmutex.Timeout {
			return fmt.Errorf("owner A Wait #%d: result=%v err=%v", i, result, err)
		}
	}

	ctxB, _ := namedmutex.NewOwnerContext(context.Background())
	mB, err := namedmutex.Open(ctxB, name, userScope)
	if err != nil {
		return fmt.Errorf("Open for owner B: %v", err)
	}
	defer mB.Close()

	result, err := mB.Wait(ctxB, 0)
	if err != nil || result != namedmutex.Timeout {
		return fmt.Errorf("owner B Wait(0): expected Timeout, got result=%v err=%v", result, err)
	}
	if err := mB.Release(ctxB); err != namedmutex.ErrNotOwner {
		return fmt.Errorf("owner B Release: expected ErrNotOwner, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.Release(ctxA); err != nil {
			return fmt.Errorf("owner A Release #%d: %v", i, err)
		}
	}
	if err := m.Release(ctxA); err != namedmutex.ErrNotOwner {
		return fmt.Errorf("owner A fourth Release: expected ErrNotOwner, got %v", err)
	}

	return nil
}

// crossProcessLifetime exercises cross-process reference lifetime.
func crossProcessLifetime(userScope, sessionScope bool) error {
	_ = sessionScope // the name carries no Global\/Local\ prefix; session scope is the default

	ctx := context.Background()
	name := mutexName(os.Getpid())
	m, _, err := namedmutex.Create(ctx, name, userScope, false)
	if err != nil {
		return fmt.Errorf("Create: %v", err)
	}

	cmd, proceed, err := runChildWithPipe("open-then-wait-proceed-close", userScope, sessionScope)
	if err != nil {
		return fmt.Errorf("runChildWithPipe: %v", err)
	}

	// The child's Open must succeed; daemonize.Run's protocol isn't used
	// here since the signal we care about is "child has opened", which we
	// approximate with a short grace period. Nothing else orders the
	// child's Open before the parent's Close below; the proceed pipe only
	// holds the child open until this process is done checking.
	time.Sleep(50 * time.Millisecond)

	if err := m.Close(); err != nil {
		return fmt.Errorf("parent Close: %v", err)
	}

	// The child still holds a reference; re-opening from this process
	// must still succeed.
	m2, err := namedmutex.Open(ctx, name, userScope)
	if err != nil {
		return fmt.Errorf("Open while child holds a reference: %v", err)
	}
	if err := m2.Close(); err != nil {
		return fmt.Errorf("second parent Close: %v", err)
	}

	proceed.Write([]byte{1})
	proceed.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("child exited with error: %v", err)
	}

	if _, err := namedmutex.Open(ctx, name, userScope); err != namedmutex.ErrNotFound {
		return fmt.Errorf("Open after last close: expected ErrNotFound, got %v", err)
	}

	return nil
}

// abandonOnGracefulClose exercises abandonment on a graceful close without a release.
func abandonOnGracefulClose(userScope, sessionScope bool) error {
	// This process holds a reference throughout, so the child's close of
	// its last handle does not remove the backing file.
	ctx, _ := namedmutex.NewOwnerContext(context.Background())
	m, _, err := namedmutex.Create(ctx, mutexName(os.Getpid()), userScope, false)
	if err != nil {
		return fmt.Errorf("Create: %v", err)
	}
	defer m.Close()

	if err := runDaemonized("acquire-close-no-release", userScope, sessionScope); err != nil {
		return fmt.Errorf("child failed to acquire: %v", err)
	}

	result, err := m.Wait(ctx, namedmutex.Infinite)
	if err != nil {
		return fmt.Errorf("Wait: %v", err)
	}
	if result != namedmutex.Abandoned0 {
		return fmt.Errorf("Wait: expected Abandoned0, got %v", result)
	}

	return m.Release(ctx)
}

// abandonOnAbruptKill exercises abandonment when the holder is killed.
func abandonOnAbruptKill(userScope, sessionScope bool) error {
	cmd, ready, err := runChildWithReadyPipe("acquire-hold-until-killed", userScope, sessionScope)
	if err != nil {
		return fmt.Errorf("runChildWithReadyPipe: %v", err)
	}
	defer ready.Close()

	var buf [1]byte
	if _, err := ready.Read(buf[:]); err != nil {
		return fmt.Errorf("waiting for child readiness: %v", err)
	}

	if err := syscall.Kill(cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("Kill: %v", err)
	}
	cmd.Wait()

	ctx, _ := namedmutex.NewOwnerContext(context.Background())
	m, err := namedmutex.Open(ctx, mutexName(os.Getpid()), userScope)
	if err != nil {
		return fmt.Errorf("Open: %v", err)
	}
	defer m.Close()

	result, err := m.Wait(ctx, namedmutex.Infinite)
	if err != nil {
		return fmt.Errorf("Wait: %v", err)
	}
	if result != namedmutex.Abandoned0 {
		return fmt.Errorf("Wait: expected Abandoned0, got %v", result)
	}

	return m.Release(ctx)
}

// fileLocksNotInherited exercises that record locks are not inherited across fork/exec: the grandchild acquires
// the lock, spawns a great-grandchild, then dies abruptly; the
// great-grandchild then waits for, releases and closes the mutex. This
// process only checks that it can acquire the mutex afterwards (Abandoned0
// or ObjectZero); the outcome of the great-grandchild's own Wait is not
// checked.
func fileLocksNotInherited(userScope, sessionScope bool) error {
	// This process holds a reference throughout, so the backing file
	// survives the grandchild's and great-grandchild's closes.
	ctx, _ := namedmutex.NewOwnerContext(context.Background())
	m, _, err := namedmutex.Create(ctx, mutexName(os.Getpid()), userScope, false)
	if err != nil {
		return fmt.Errorf("Create: %v", err)
	}
	defer m.Close()

	if err := runDaemonized("acquire-spawn-grandchild-die", userScope, sessionScope); err != nil {
		return fmt.Errorf("grandchild failed to acquire: %v", err)
	}

	// Give the great-grandchild time to start and block on Wait.
	time.Sleep(100 * time.Millisecond)

	result, err := m.Wait(ctx, 5*time.Second)
	if err != nil {
		return fmt.Errorf("Wait: %v", err)
	}
	if result != namedmutex.Abandoned0 && result != namedmutex.ObjectZero {
		return fmt.Errorf("Wait: expected Abandoned0 or ObjectZero once the great-grandchild releases, got %v", result)
	}

	return nil
}

// headerMismatch exercises a corrupted backing file: pre-creating it
// with an unrecognized kind byte makes Create fail with ErrInvalidHandle.
func headerMismatch(userScope, sessionScope bool) error {
	name := fmt.Sprintf("namedmutextest-header-%d", os.Getpid())
	id, err := namedmutex.ParseName(name, userScope)
	if err != nil {
		return fmt.Errorf("ParseName: %v", err)
	}

	path, err := shm.Path(id.UserScope, id.SessionScope, id.Leaf)
	if err != nil {
		return fmt.Errorf("shm.Path: %v", err)
	}

	contents := make([]byte, 16)
	contents[0] = 0xFF // an unrecognized kind byte
	if err := os.WriteFile(path, contents, 0666); err != nil {
		return fmt.Errorf("WriteFile: %v", err)
	}
	defer os.Remove(path)

	ctx := context.Background()
	_, _, err = namedmutex.Create(ctx, name, userScope, false)
	if err != namedmutex.ErrInvalidHandle {
		return fmt.Errorf("Create: expected ErrInvalidHandle, got %v", err)
	}

	return nil
}
