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

// A driver for exercising the named mutex scenarios, in two
// forms:
//
//	namedmutextest [stress [minutes]]
//	namedmutextest <parentPid> <functionName> <userOnly:0|1> <sessionOnly:0|1> [stress]
//
// The first form runs every scenario once (or continuously, for the given
// duration, from multiple concurrent goroutines) and exits 0 on success,
// non-zero on failure. The second is the
// child form: it is how the first form re-execs itself to exercise
// cross-process lifetime and abandonment. functionName selects one of the
// entries in the childFuncs table.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		runAllScenarios(false, 0)
		return
	}

	if args[0] == "stress" {
		minutes := 1
		if len(args) > 1 {
			m, err := strconv.Atoi(args[1])
			if err != nil {
				log.Fatalf("bad stress duration %q: %v", args[1], err)
			}
			minutes = m
		}
		runAllScenarios(true, time.Duration(minutes)*time.Minute)
		return
	}

	if len(args) < 4 {
		log.Fatalf("usage: %s <parentPid> <functionName> <userOnly:0|1> <sessionOnly:0|1> [stress]", os.Args[0])
	}

	parentPid, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("bad parentPid %q: %v", args[0], err)
	}

	functionName := args[1]
	userOnly := args[2] == "1"
	sessionOnly := args[3] == "1"

	fn, ok := childFuncs[functionName]
	if !ok {
		log.Fatalf("unknown child function %q", functionName)
	}

	runChild(parentPid, functionName, fn, userOnly, sessionOnly)
}

// runAllScenarios runs every scenario in scenarios.go across all four
// (userScope, sessionScope) combinations, once if stress is false, or
// repeatedly from multiple goroutines for duration if stress is true.
func runAllScenarios(stress bool, duration time.Duration) {
	combos := []struct{ userScope, sessionScope bool }{
		{false, false},
		{false, true},
		{true, false},
		{true, true},
	}

	run := func() error {
		for _, c := range combos {
			for _, s := range scenarios {
				if err := s.run(c.userScope, c.sessionScope); err != nil {
					return fmt.Errorf("%s(userScope=%v, sessionScope=%v): %v", s.name, c.userScope, c.sessionScope, err)
				}
			}
		}
		return nil
	}

	if !stress {
		if err := run(); err != nil {
			log.Fatalf("FAIL: %v", err)
		}
		fmt.Println("PASS")
		return
	}

	const workers = 4
	errCh := make(chan error, workers)
	stop := time.After(duration)
	done := make(chan struct{})
	go func() {
		<-stop
		close(done)
	}()

	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case <-done:
					errCh <- nil
					return
				default:
				}
				if err := run(); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	for i := 0; i < workers; i++ {
		if err := <-errCh; err != nil {
			log.Fatalf("FAIL: %v", err)
		}
	}
	fmt.Println("PASS")
}
