package sys

import (
	"errors"
	"os"
)

// LockType selects shared (reader) or exclusive (consolidation)
// locking.
type LockType int

const (
	// LockShared is held by every reader of an open array.
	LockShared LockType = iota
	// LockExclusive is held while fragment visibility is swapped.
	LockExclusive
)

// ErrLockHeld is returned by TryAcquireFileLock when the lock is held
// in a conflicting mode.
var ErrLockHeld = errors.New("file lock held")

// FileLock is an advisory byte-range lock over a whole lock file. Each
// acquisition owns its own descriptor; Release drops the lock by
// closing it. On Linux these are open-file-description locks, so two
// acquisitions conflict even inside one process.
type FileLock struct {
	f    *os.File
	path string
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Release drops the lock and closes the descriptor. Safe to call more
// than once.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func openLockFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, FilePerm)
}
