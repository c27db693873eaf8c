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

// Package shm implements the shared-memory backing file and the
// directory-based lifetime coordination of the named mutex subsystem.
package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// rootBase is overridden by tests that want an isolated hierarchy.
var rootBase = "/tmp"

// userDir returns the name of the top-level directory for the given scope,
// not including rootBase.
func userDir(userScope bool) string {
	if userScope {
		return fmt.Sprintf(".dotnet-uid%d", unix.Geteuid())
	}
	return ".dotnet"
}

// sessionDir returns the name of the session subdirectory for the given
// scope.
func sessionDir(sessionScope bool) (string, error) {
	if !sessionScope {
		return "global", nil
	}

	sid, err := unix.Getsid(0)
	if err != nil {
		return "", fmt.Errorf("Getsid: %v", err)
	}

	return fmt.Sprintf("session%d", sid), nil
}

// ensureDir creates dir (and any missing parents under rootBase) with mode,
// tolerating a directory that already exists. The final component's mode is
// enforced even if the directory pre-existed, so that a stale directory
// left behind with the wrong permissions is corrected.
func ensureDir(dir string, mode os.FileMode) error {
	parent := filepath.Dir(dir)
	if parent != "/" && parent != "." {
		if err := os.MkdirAll(parent, 0777); err != nil {
			return fmt.Errorf("MkdirAll(%s): %v", parent, err)
		}
	}

	if err := unix.Mkdir(dir, uint32(mode.Perm())); err != nil && err != unix.EEXIST {
		return fmt.Errorf("Mkdir(%s): %v", dir, err)
	}

	if err := os.Chmod(dir, mode); err != nil {
		return fmt.Errorf("Chmod(%s): %v", dir, err)
	}

	return nil
}

// Path computes the deterministic backing-file path for the given identity,
// creating the directory chain above it with the permissions the scope
// requires: user-scoped directories are 0700, shared directories are
// 0777 with the sticky bit set.
func Path(userScope, sessionScope bool, leaf string) (path string, err error) {
	root := filepath.Join(rootBase, userDir(userScope))
	rootMode := os.FileMode(0777) | os.ModeSticky
	if userScope {
		rootMode = 0700
	}

	if err = ensureDir(root, rootMode); err != nil {
		return
	}

	shmDir := filepath.Join(root, "shm")
	if err = ensureDir(shmDir, rootMode); err != nil {
		return
	}

	sess, err := sessionDir(sessionScope)
	if err != nil {
		return
	}

	sessDirPath := filepath.Join(shmDir, sess)
	if err = ensureDir(sessDirPath, rootMode); err != nil {
		return
	}

	path = filepath.Join(sessDirPath, leaf)
	return
}
