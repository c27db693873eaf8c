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
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/jacobsa/daemonize"
)

func scopeFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func childArgs(functionName string, userScope, sessionScope bool) []string {
	return []string{
		strconv.Itoa(os.Getpid()),
		functionName,
		scopeFlag(userScope),
		scopeFlag(sessionScope),
	}
}

// runDaemonized spawns functionName as a child, blocking until it calls
// daemonize.SignalOutcome — which, by convention, every childFunc does
// right after reaching the lock state the scenario cares about (lock
// acquired, or lock acquired-then-abandoned) — or until it exits without
// signaling, whichever happens first. The child is left running (it is
// the caller's job to wait for or kill it) unless it has already exited.
func runDaemonized(functionName string, userScope, sessionScope bool) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("Executable: %v", err)
	}

	args := childArgs(functionName, userScope, sessionScope)
	return daemonize.Run(self, args, os.Environ(), os.Stderr)
}

// runChildWithPipe spawns functionName as a child with an inherited pipe at
// fd 3: the child reads one byte from it (see waitForProceed) before
// moving on to its next step, so the parent can
// drive the exact moment the child proceeds. Grounded on
// samples/subprocess.go's ExtraFiles convention, simplified to a single
// well-known fd since this driver only ever inherits one pipe at a time.
func runChildWithPipe(functionName string, userScope, sessionScope bool) (cmd *exec.Cmd, proceed *os.File, err error) {
	self, err := os.Executable()
	if err != nil {
		err = fmt.Errorf("Executable: %v", err)
		return
	}

	r, w, err := os.Pipe()
	if err != nil {
		err = fmt.Errorf("Pipe: %v", err)
		return
	}

	args := childArgs(functionName, userScope, sessionScope)
	cmd = exec.Command(self, args...)
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{r}

	if err = cmd.Start(); err != nil {
		err = fmt.Errorf("Start: %v", err)
		return
	}

	r.Close()
	proceed = w
	return
}

// waitForProceed blocks until the parent writes to the fd 3 pipe set up by
// runChildWithPipe, or returns immediately if this process has no such fd
// (e.g. it was launched directly for manual testing).
func waitForProceed() {
	f := os.NewFile(3, "proceed")
	if f == nil {
		return
	}
	defer f.Close()

	var buf [1]byte
	f.Read(buf[:])
}

// runChildWithReadyPipe is runChildWithPipe with the roles reversed: the
// child writes one byte to fd 3 (via signalReady) once it has reached the
// point the scenario cares about, and the returned ready file's Read
// unblocks the parent at that moment. Used by scenarios that need the
// child's pid to send it a signal, which daemonize's one-shot handshake
// does not expose.
func runChildWithReadyPipe(functionName string, userScope, sessionScope bool) (cmd *exec.Cmd, ready *os.File, err error) {
	self, err := os.Executable()
	if err != nil {
		err = fmt.Errorf("Executable: %v", err)
		return
	}

	r, w, err := os.Pipe()
	if err != nil {
		err = fmt.Errorf("Pipe: %v", err)
		return
	}

	args := childArgs(functionName, userScope, sessionScope)
	cmd = exec.Command(self, args...)
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{w}

	if err = cmd.Start(); err != nil {
		err = fmt.Errorf("Start: %v", err)
		return
	}

	w.Close()
	ready = r
	return
}

// signalReady writes one byte to the fd 3 pipe set up by
// runChildWithReadyPipe, or does nothing if this process has no such fd.
func signalReady() {
	f := os.NewFile(3, "ready")
	if f == nil {
		return
	}
	defer f.Close()
	f.Write([]byte{1})
}
