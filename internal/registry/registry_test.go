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

package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jacobsa/namedmutex/internal/lockid"
	"github.com/jacobsa/namedmutex/internal/shm"
	"github.com/jacobsa/timeutil"
)

// uniqueLeaf avoids collisions between test runs sharing the same /tmp.
func uniqueLeaf(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("registry-test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestCreate_DedupesWithinProcess(t *testing.T) {
	leaf := uniqueLeaf(t)
	owner := lockid.New()

	h1, existed1, err := Create(nil, timeutil.RealClock(), owner, false, true, leaf, false)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if existed1 {
		t.Error("first Create: expected alreadyExisted=false")
	}

	h2, existed2, err := Create(nil, timeutil.RealClock(), owner, false, true, leaf, false)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if !existed2 {
		t.Error("second Create: expected alreadyExisted=true")
	}
	if h1.ref != h2.ref {
		t.Error("expected both Handles to share one Reference")
	}

	Close(h1, owner)
	Close(h2, owner)
}

func TestCreate_InitiallyOwnedGrantsLock(t *testing.T) {
	leaf := uniqueLeaf(t)
	owner := lockid.New()
	stranger := lockid.New()

	h, _, err := Create(nil, timeutil.RealClock(), owner, false, true, leaf, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer Close(h, owner)

	result, err := Wait(context.Background(), h, stranger, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != TimedOut {
		t.Fatalf("got %v, want TimedOut since owner already holds the lock", result)
	}
}

func TestOpen_NotFound(t *testing.T) {
	leaf := uniqueLeaf(t)

	if _, err := Open(nil, timeutil.RealClock(), false, true, leaf); err != shm.ErrNotFound {
		t.Fatalf("got %v, want shm.ErrNotFound", err)
	}
}

func TestOpen_SharesReferenceWithCreate(t *testing.T) {
	leaf := uniqueLeaf(t)
	owner := lockid.New()

	h1, _, err := Create(nil, timeutil.RealClock(), owner, false, true, leaf, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer Close(h1, owner)

	h2, err := Open(nil, timeutil.RealClock(), false, true, leaf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(h2, owner)

	if h1.ref != h2.ref {
		t.Error("expected Open to share the same Reference as Create")
	}
}

func TestClose_AbandonsWhenOwnerStillHolds(t *testing.T) {
	leaf := uniqueLeaf(t)
	owner := lockid.New()
	stranger := lockid.New()

	h, _, err := Create(nil, timeutil.RealClock(), owner, false, true, leaf, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := Close(h, owner); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h2, err := Open(nil, timeutil.RealClock(), false, true, leaf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(h2, stranger)

	result, err := Wait(context.Background(), h2, stranger, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != Abandoned {
		t.Fatalf("got %v, want Abandoned", result)
	}
}

func TestCreateUnnamed_NotSharedAcrossCalls(t *testing.T) {
	owner := lockid.New()

	h1, err := CreateUnnamed(nil, timeutil.RealClock(), owner, false)
	if err != nil {
		t.Fatalf("first CreateUnnamed: %v", err)
	}
	defer Close(h1, owner)

	h2, err := CreateUnnamed(nil, timeutil.RealClock(), owner, false)
	if err != nil {
		t.Fatalf("second CreateUnnamed: %v", err)
	}
	defer Close(h2, owner)

	if h1.ref == h2.ref {
		t.Error("expected two independent CreateUnnamed calls to never share a Reference")
	}
}
