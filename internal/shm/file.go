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
	"fmt"
	"log"
	"os"

	"github.com/detailyang/go-fallocate"
	"golang.org/x/sys/unix"
)

// Byte ranges of the backing file used for POSIX record locks (fcntl
// F_SETLK/F_SETLKW). Record locks, unlike flock(2), are scoped to a byte
// range rather than an open file description, so the presence lock held
// for the whole lifetime of a File and the mutual-exclusion lock
// internal/robustlock takes out over the same fd never conflict with each
// other even though both live on the same process and the same fd.
const (
	presenceByte = 0

	// ExclusionByte is the byte range internal/robustlock record-locks to
	// implement mutual exclusion. It is exported so that internal/registry
	// can hand it to robustlock.New alongside the File's fd and depth
	// pointer without this package needing to know about robustlock.
	ExclusionByte = 1
)

// File is an open, mapped backing file for one mutex identity in this
// process. Exactly one File exists per (process, identity) pair; callers
// that need more handles to the same identity share one File.
type File struct {
	logger *log.Logger

	path string
	fd   int

	mapping []byte

	// Held from Open until the last local reference closes. Upgraded to
	// exclusive, non-blocking, at that point to test whether any other
	// process still holds a shared reference.
	presenceLockHeld bool
}

// CreateOrOpen implements create-or-open semantics for the given
// identity: the chain of directories is created with the scope's
// permissions, the file is created with O_CREAT|O_EXCL and initialized on
// success, or opened and header-validated on EEXIST.
func CreateOrOpen(
	logger *log.Logger,
	userScope, sessionScope bool,
	leaf string) (f *File, created bool, err error) {
	path, err := Path(userScope, sessionScope, leaf)
	if err != nil {
		err = fmt.Errorf("Path: %v", err)
		return
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0666)
	switch err {
	case nil:
		created = true

	case unix.EEXIST:
		fd, err = unix.Open(path, unix.O_RDWR, 0)
		if err != nil {
			err = fmt.Errorf("Open(%s): %v", path, err)
			return
		}

	default:
		err = fmt.Errorf("Open(%s): %v", path, err)
		return
	}

	f, err = newFile(logger, path, fd, created)
	return
}

// OpenExisting implements the open-only half of the create-or-open
// contract: it never creates a backing file, returning ErrNotFound if none
// exists for the identity yet.
func OpenExisting(
	logger *log.Logger,
	userScope, sessionScope bool,
	leaf string) (f *File, err error) {
	path, err := Path(userScope, sessionScope, leaf)
	if err != nil {
		err = fmt.Errorf("Path: %v", err)
		return
	}

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err == unix.ENOENT {
		err = ErrNotFound
		return
	}
	if err != nil {
		err = fmt.Errorf("Open(%s): %v", path, err)
		return
	}

	return newFile(logger, path, fd, false)
}

// CreateAnonymous backs a File with a memfd (memfd_create(2)) instead of a
// path under the shared directory hierarchy: the unnamed-mutex case, which
// has no backing file and is visible only to handles derived from the same
// Create call. The returned File has no presence lock and nothing to
// unlink; Close simply tears down the mapping and the fd, and the kernel
// frees the memfd's pages once every fd referencing it is closed.
func CreateAnonymous(logger *log.Logger) (f *File, err error) {
	fd, err := unix.MemfdCreate("namedmutex", 0)
	if err != nil {
		err = fmt.Errorf("MemfdCreate: %v", err)
		return
	}

	f = &File{logger: logger, fd: fd}
	if err = f.initialize(); err != nil {
		f.Close()
		f = nil
	}

	return
}

// newFile takes ownership of fd, acquiring the presence lock and then
// initializing or validating the header depending on created.
func newFile(logger *log.Logger, path string, fd int, created bool) (f *File, err error) {
	f = &File{
		logger: logger,
		path:   path,
		fd:     fd,
	}

	// Acquire the shared presence lock immediately; it stays held until
	// Close, and its presence is what tells another process's Close that
	// this process still has a reference.
	if err = lockRange(fd, unix.F_RDLCK, presenceByte, unix.F_SETLK); err != nil {
		unix.Close(fd)
		f = nil
		err = fmt.Errorf("lock presence byte: %v", err)
		return
	}
	f.presenceLockHeld = true

	if created {
		err = f.initialize()
	} else {
		err = f.validate()
	}

	if err != nil {
		f.Close()
		f = nil
		return
	}

	return
}

func (f *File) initialize() error {
	if err := fallocate.Fallocate(os.NewFile(uintptr(f.fd), f.path), 0, int64(FileSize)); err != nil {
		return fmt.Errorf("Fallocate: %v", err)
	}

	mapping, err := unix.Mmap(
		f.fd, 0, FileSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("Mmap: %v", err)
	}
	f.mapping = mapping

	h := headerAt(mapping)
	h.kind = KindMutex
	h.version = CurrentVersion

	return nil
}

func (f *File) validate() error {
	mapping, err := unix.Mmap(
		f.fd, 0, FileSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("Mmap: %v", err)
	}
	f.mapping = mapping

	h := headerAt(mapping)
	if h.kind != KindMutex || h.version != CurrentVersion {
		return ErrInvalidHandle
	}

	return nil
}

// DepthPtr returns a pointer into the mapped file at which the robust lock
// body's recursion depth lives, for internal/robustlock to manipulate with
// sync/atomic.
func (f *File) DepthPtr() *uint32 {
	return depthPtr(f.mapping)
}

// Fd returns the backing file descriptor. internal/robustlock locks the
// ExclusionByte range on it to implement mutual exclusion; this never
// conflicts with the presence lock this package holds on presenceByte.
func (f *File) Fd() int {
	return f.fd
}

// Close releases this process's presence lock, then makes a single
// non-blocking attempt to take an exclusive lock over the same byte.
// Success means no other process holds a reference, so the file is
// unlinked; failure (another process still holds a read lock on that byte)
// leaves the file in place for a later process to remove. Either way Close
// never returns an error for lock contention; that is the expected,
// non-exceptional case.
func (f *File) Close() (removed bool, err error) {
	if f.mapping != nil {
		if mErr := unix.Munmap(f.mapping); mErr != nil && f.logger != nil {
			f.logger.Printf("shm: Munmap(%s): %v", f.path, mErr)
		}
		f.mapping = nil
	}

	if f.presenceLockHeld {
		if uErr := unlockRange(f.fd, presenceByte); uErr != nil && f.logger != nil {
			f.logger.Printf("shm: unlock presence byte(%s): %v", f.path, uErr)
		}

		upgradeErr := lockRange(f.fd, unix.F_WRLCK, presenceByte, unix.F_SETLK)
		if upgradeErr == nil {
			if uErr := unix.Unlink(f.path); uErr != nil {
				if f.logger != nil {
					f.logger.Printf("shm: Unlink(%s): %v", f.path, uErr)
				}
			} else {
				removed = true
			}
		}
		f.presenceLockHeld = false
	}

	if cErr := unix.Close(f.fd); cErr != nil {
		err = fmt.Errorf("Close(%s): %v", f.path, cErr)
	}

	return
}

// lockRange places a POSIX record lock of the given type over one byte of
// fd using cmd (F_SETLK for non-blocking, F_SETLKW to wait).
func lockRange(fd int, lockType int16, offset int64, cmd int) error {
	lk := unix.Flock_t{
		Type:  lockType,
		Start: offset,
		Len:   1,
	}
	return unix.FcntlFlock(uintptr(fd), cmd, &lk)
}

func unlockRange(fd int, offset int64) error {
	return lockRange(fd, unix.F_UNLCK, offset, unix.F_SETLK)
}
