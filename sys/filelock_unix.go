//go:build unix && !linux

package sys

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Classic POSIX record locks are owned by the process, so acquisitions
// from the same process never conflict with each other. Cross-process
// coordination still holds; in-process exclusion between readers and
// consolidation is carried by the open-array registry alone here.

func lockType(lt LockType) (int16, error) {
	switch lt {
	case LockShared:
		return unix.F_RDLCK, nil
	case LockExclusive:
		return unix.F_WRLCK, nil
	default:
		return 0, fmt.Errorf("invalid lock type %d", lt)
	}
}

// AcquireFileLock opens the lock file, creating it if absent, and
// blocks until the requested lock over the whole file is granted.
func AcquireFileLock(path string, lt LockType) (*FileLock, error) {
	return acquire(path, lt, unix.F_SETLKW)
}

// TryAcquireFileLock is AcquireFileLock without blocking: it returns
// ErrLockHeld if the lock is held in a conflicting mode.
func TryAcquireFileLock(path string, lt LockType) (*FileLock, error) {
	l, err := acquire(path, lt, unix.F_SETLK)
	if err == unix.EAGAIN || err == unix.EACCES {
		return nil, ErrLockHeld
	}
	return l, err
}

func acquire(path string, lt LockType, cmd int) (*FileLock, error) {
	typ, err := lockType(lt)
	if err != nil {
		return nil, err
	}
	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}
	flk := unix.Flock_t{Type: typ, Whence: io.SeekStart, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), cmd, &flk); err != nil {
		f.Close()
		return nil, err
	}
	return &FileLock{f: f, path: path}, nil
}
