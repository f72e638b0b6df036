//go:build windows

package sys

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// LockFileEx locks are owned by the handle, so acquisitions conflict
// within a process the same way they do across processes. Closing the
// handle releases the lock.

func lockFlags(lt LockType) (uint32, error) {
	switch lt {
	case LockShared:
		return 0, nil
	case LockExclusive:
		return windows.LOCKFILE_EXCLUSIVE_LOCK, nil
	default:
		return 0, fmt.Errorf("invalid lock type %d", lt)
	}
}

// AcquireFileLock opens the lock file, creating it if absent, and
// blocks until the requested lock over the whole file is granted.
func AcquireFileLock(path string, lt LockType) (*FileLock, error) {
	return acquire(path, lt, 0)
}

// TryAcquireFileLock is AcquireFileLock without blocking: it returns
// ErrLockHeld if the lock is held in a conflicting mode.
func TryAcquireFileLock(path string, lt LockType) (*FileLock, error) {
	l, err := acquire(path, lt, windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err == windows.ERROR_LOCK_VIOLATION {
		return nil, ErrLockHeld
	}
	return l, err
}

func acquire(path string, lt LockType, extraFlags uint32) (*FileLock, error) {
	flags, err := lockFlags(lt)
	if err != nil {
		return nil, err
	}
	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(windows.Handle(f.Fd()), flags|extraFlags, 0, ^uint32(0), ^uint32(0), ol); err != nil {
		f.Close()
		return nil, err
	}
	return &FileLock{f: f, path: path}, nil
}
