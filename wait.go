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
	"time"

	"github.com/jacobsa/namedmutex/internal/registry"
	"github.com/jacobsa/namedmutex/internal/robustlock"
	"github.com/jacobsa/reqtrace"
)

// WaitResult is the outcome of a single-object Wait.
type WaitResult int

const (
	// ObjectZero means the lock was acquired cleanly.
	ObjectZero WaitResult = iota

	// Abandoned0 means the lock was acquired, but its previous owner
	// never released it: it died, crashed, or closed its last handle
	// while still holding it. The caller now owns the lock at depth 1.
	Abandoned0

	// Timeout means the wait's deadline elapsed without acquiring.
	Timeout

	// Failed means a lower-level primitive returned an unexpected error;
	// the mutex remains usable but this particular call did not succeed.
	Failed
)

// Infinite is the sentinel timeout meaning "wait with no upper bound".
const Infinite = robustlock.Infinite

// Wait blocks until m's lock is acquired by ctx's Owner, is observed
// abandoned, or timeout elapses, whichever comes first. A timeout of 0
// never blocks. If ctx carries no Owner (NewOwnerContext was never
// called), Wait mints an ephemeral one so "fire and forget" callers still
// work — they just never recurse, since nothing threads that Owner to a
// later call.
func (m *Mutex) Wait(ctx context.Context, timeout time.Duration) (result WaitResult, err error) {
	ctx, report := reqtrace.StartSpan(ctx, "namedmutex.Wait")
	defer func() { report(err) }()

	owner, ok := OwnerFromContext(ctx)
	if !ok {
		_, owner = NewOwnerContext(ctx)
	}

	regResult, err := registry.Wait(ctx, m.h, owner, timeout)
	if err != nil {
		result = Failed
		return
	}

	switch regResult {
	case registry.Acquired:
		m.recordOwner(owner)
		result = ObjectZero
	case registry.Abandoned:
		m.recordOwner(owner)
		result = Abandoned0
	default:
		result = Timeout
	}
	return
}

// WaitMultiple always fails: a multi-object wait that includes a named
// mutex has no supported semantics here. It exists so that callers
// translating a multi-handle wait can discover, for the named mutex
// handles among them, that the combination is rejected synchronously
// without acquiring any of them.
func WaitMultiple(ctx context.Context, mutexes []*Mutex, waitAll bool, timeout time.Duration) (WaitResult, error) {
	return Failed, ErrNotSupported
}
