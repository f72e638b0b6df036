//go:build linux

package sys

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Descriptor-owned locks conflict within one process, which is what
// lets consolidation drain readers running on sibling goroutines.
func TestFileLockExclusiveConflictsInProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__consolidation_lock")

	shared, err := AcquireFileLock(path, LockShared)
	require.NoError(t, err)

	_, err = TryAcquireFileLock(path, LockExclusive)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, shared.Release())

	excl, err := TryAcquireFileLock(path, LockExclusive)
	require.NoError(t, err)

	_, err = TryAcquireFileLock(path, LockShared)
	assert.ErrorIs(t, err, ErrLockHeld, "exclusive must block new shared holders")
	require.NoError(t, excl.Release())
}

func TestFileLockExclusiveWaitsForShared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__consolidation_lock")

	shared, err := AcquireFileLock(path, LockShared)
	require.NoError(t, err)

	acquired := make(chan *FileLock)
	go func() {
		l, err := AcquireFileLock(path, LockExclusive)
		if err != nil {
			t.Error(err)
		}
		acquired <- l
	}()

	select {
	case <-acquired:
		t.Fatal("exclusive lock granted while shared lock held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, shared.Release())

	select {
	case l := <-acquired:
		require.NoError(t, l.Release())
	case <-time.After(2 * time.Second):
		t.Fatal("exclusive lock not granted after shared release")
	}
}
