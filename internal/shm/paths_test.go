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

package shm

import (
	"os"
	"path/filepath"
	"testing"
)

func withTempRoot(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	prev := rootBase
	rootBase = dir
	t.Cleanup(func() { rootBase = prev })
}

func TestPath_CreatesDirectoryChain(t *testing.T) {
	withTempRoot(t)

	path, err := Path(false, true, "foo")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}

	if filepath.Base(path) != "foo" {
		t.Errorf("got leaf %q, want foo", filepath.Base(path))
	}

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat(%s): %v", dir, err)
	}
	if !info.IsDir() {
		t.Errorf("%s is not a directory", dir)
	}
}

func TestPath_UserScopePermissions(t *testing.T) {
	withTempRoot(t)

	path, err := Path(true, false, "foo")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}

	userDirPath := filepath.Dir(filepath.Dir(filepath.Dir(path)))
	info, err := os.Stat(userDirPath)
	if err != nil {
		t.Fatalf("Stat(%s): %v", userDirPath, err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("got perm %o, want 0700", perm)
	}
}

func TestPath_SessionVsGlobalDiffer(t *testing.T) {
	withTempRoot(t)

	sessionPath, err := Path(false, true, "foo")
	if err != nil {
		t.Fatalf("Path(session): %v", err)
	}

	globalPath, err := Path(false, false, "foo")
	if err != nil {
		t.Fatalf("Path(global): %v", err)
	}

	if sessionPath == globalPath {
		t.Error("session-scoped and global-scoped paths should differ")
	}
}

func TestPath_StableAcrossCalls(t *testing.T) {
	withTempRoot(t)

	a, err := Path(false, true, "foo")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	b, err := Path(false, true, "foo")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}

	if a != b {
		t.Errorf("Path should be deterministic: got %q and %q", a, b)
	}
}
