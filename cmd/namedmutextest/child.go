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
	"log"
	"os"
	"os/exec"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/namedmutex"
)

// mutexName derives the shared name a parent (identified by its own pid)
// and its children agree on without any other side channel.
func mutexName(parentPid int) string {
	return fmt.Sprintf("namedmutextest-%d", parentPid)
}

// childFunc is a child-process body. By convention it calls
// daemonize.SignalOutcome exactly once, at the point the scenario cares
// about (usually: lock acquired), then either returns (the process exits 0
// once main returns) or blocks so the parent can kill it.
type childFunc func(parentPid int, userScope, sessionScope bool)

var childFuncs = map[string]childFunc{
	"open-then-wait-proceed-close": openThenWaitProceedClose,
	"acquire-close-no-release":     acquireCloseNoRelease,
	"acquire-hold-until-killed":    acquireHoldUntilKilled,
	"acquire-spawn-grandchild-die": acquireSpawnGrandchildDie,
	"acquire-then-release":         acquireThenRelease,
}

func runChild(parentPid int, functionName string, fn childFunc, userScope, sessionScope bool) {
	fn(parentPid, userScope, sessionScope)
}

func mustOwnerContext() (context.Context, namedmutex.Owner) {
	return namedmutex.NewOwnerContext(context.Background())
}

// openThenWaitProceedClose implements the child half of scenario 2
// (cross-process lifetime): open the parent's mutex, signal readiness,
// wait for the parent's proceed signal, then close.
func openThenWaitProceedClose(parentPid int, userScope, sessionScope bool) {
	m, err := namedmutex.Open(context.Background(), mutexName(parentPid), userScope)
	if err := daemonize.SignalOutcome(err); err != nil {
		log.Fatalf("SignalOutcome: %v", err)
	}
	if m == nil {
		return
	}

	waitForProceed()
	m.Close()
}

// acquireCloseNoRelease implements the child half of scenario 3 (abandon
// on graceful close-without-release): acquire the lock, signal readiness,
// then close without releasing and exit normally.
func acquireCloseNoRelease(parentPid int, userScope, sessionScope bool) {
	ctx, owner := mustOwnerContext()
	m, _, err := namedmutex.Create(ctx, mutexName(parentPid), userScope, false)
	if err == nil {
		_, err = m.Wait(ctx, namedmutex.Infinite)
	}
	if serr := daemonize.SignalOutcome(err); serr != nil {
		log.Fatalf("SignalOutcome: %v", serr)
	}
	if err != nil {
		return
	}

	_ = owner
	m.Close() // no Release: the lock is abandoned on purpose
}

// acquireHoldUntilKilled implements the child half of scenario 4 (abandon
// on abrupt kill): acquire the lock, signal readiness, then block forever.
// The parent is expected to send an uncatchable signal.
func acquireHoldUntilKilled(parentPid int, userScope, sessionScope bool) {
	ctx, _ := mustOwnerContext()
	m, _, err := namedmutex.Create(ctx, mutexName(parentPid), userScope, false)
	if err == nil {
		_, err = m.Wait(ctx, namedmutex.Infinite)
	}
	if serr := daemonize.SignalOutcome(err); serr != nil {
		log.Fatalf("SignalOutcome: %v", serr)
	}
	if err != nil {
		return
	}

	signalReady()
	select {}
}

// acquireSpawnGrandchildDie implements the grandchild half of scenario 5
// (file locks are not inherited across fork/exec): acquire the lock, spawn
// a great-grandchild that waits for the same mutex, signal readiness, then
// exit abruptly (os.Exit skips any Close/Release, simulating a crash
// without this process needing to kill itself).
func acquireSpawnGrandchildDie(parentPid int, userScope, sessionScope bool) {
	ctx, _ := mustOwnerContext()
	m, _, err := namedmutex.Create(ctx, mutexName(parentPid), userScope, false)
	if err == nil {
		_, err = m.Wait(ctx, namedmutex.Infinite)
	}
	if err != nil {
		daemonize.SignalOutcome(err)
		return
	}

	self, xerr := os.Executable()
	if xerr != nil {
		daemonize.SignalOutcome(xerr)
		return
	}

	// The great-grandchild runs acquire-then-release rather than
	// acquire-hold-until-killed: nothing tracks this process's pid once
	// this grandchild exits abruptly below, so it must release the lock
	// and exit on its own rather than depend on someone killing it.
	args := childArgs("acquire-then-release", userScope, sessionScope)
	// The great-grandchild gets its own parentPid argument identical to
	// ours, so it resolves the same shared mutex name.
	args[0] = fmt.Sprintf("%d", parentPid)
	greatGrandchild := exec.Command(self, args...)
	greatGrandchild.Stderr = os.Stderr
	if err := greatGrandchild.Start(); err != nil {
		daemonize.SignalOutcome(err)
		return
	}

	daemonize.SignalOutcome(nil)
	os.Exit(1) // abrupt: no Close, no Release, no waiting on the grandchild
}

// acquireThenRelease implements the great-grandchild half of scenario 5:
// wait for the mutex (expected to be granted as Abandoned once the
// grandchild dies without releasing, proving the record lock the
// grandchild held was not inherited across its own fork/exec), then
// release and close so the top-level scenario can observe the mutex
// becoming free again instead of leaking a process that holds it forever.
func acquireThenRelease(parentPid int, userScope, sessionScope bool) {
	ctx, _ := mustOwnerContext()
	m, _, err := namedmutex.Create(ctx, mutexName(parentPid), userScope, false)
	if err != nil {
		log.Fatalf("Create: %v", err)
	}

	if _, err := m.Wait(ctx, namedmutex.Infinite); err != nil {
		log.Fatalf("Wait: %v", err)
	}

	if err := m.Release(ctx); err != nil {
		log.Fatalf("Release: %v", err)
	}
	m.Close()
}
