//go:build linux

package sys

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Open-file-description locks (F_OFD_*) are owned by the descriptor,
// not the process. That gives the semantics the consolidation protocol
// needs: an exclusive acquisition blocks on shared holders from the
// same process as well as from other processes, and releasing one lock
// never drops another.

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
	return acquire(path, lt, unix.F_OFD_SETLKW)
}

// TryAcquireFileLock is AcquireFileLock without blocking: it returns
// ErrLockHeld if the lock is held in a conflicting mode.
func TryAcquireFileLock(path string, lt LockType) (*FileLock, error) {
	l, err := acquire(path, lt, unix.F_OFD_SETLK)
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
