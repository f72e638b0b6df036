package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/fragment"
	"github.com/arraydb/tilestore/sys"
)

func TestConsolidateMergesFragments(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()

	old := []string{
		writeFragment(t, array, 1, "aaa"),
		writeFragment(t, array, 2, "bb"),
		writeFragment(t, array, 3, "c"),
	}

	require.NoError(t, m.ArrayConsolidate(ctx, array))

	// The old directories are gone; exactly one fragment is visible.
	for _, dir := range old {
		assert.False(t, sys.IsDir(dir), "old fragment %s should be removed", dir)
	}
	arr, err := m.ArrayOpen(ctx, array, core.ModeRead)
	require.NoError(t, err)
	defer func() { require.NoError(t, m.ArrayFinalize(ctx, arr)) }()

	frags, err := arr.Fragments()
	require.NoError(t, err)
	require.Len(t, frags, 1)

	// Data files are concatenated in chronological order and the
	// merged book-keeping carries the summed cell count.
	data, err := os.ReadFile(filepath.Join(frags[0], "v"+core.FileSuffix))
	require.NoError(t, err)
	assert.Equal(t, "aaabbc", string(data))

	bks, err := arr.BookKeeping()
	require.NoError(t, err)
	require.Len(t, bks, 1)
	assert.Equal(t, int64(6), bks[0].CellNum)
	assert.Equal(t, []float64{0, 9, 0, 9}, bks[0].MBR)
}

func TestConsolidateSingleFragmentIsNoop(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()
	dir := writeFragment(t, array, 1, "abc")

	require.NoError(t, m.ArrayConsolidate(ctx, array))
	assert.True(t, sys.IsDir(dir))
	assert.Equal(t, int64(0), m.Metrics().FragmentsConsolidatedTotal.Value())
}

func TestConsolidateBlocksUntilReaderFinalizes(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()
	writeFragment(t, array, 1, "aaa")
	writeFragment(t, array, 2, "bb")

	reader, err := m.ArrayOpen(ctx, array, core.ModeRead)
	require.NoError(t, err)
	preFrags, err := reader.Fragments()
	require.NoError(t, err)
	require.Len(t, preFrags, 2)

	done := make(chan error, 1)
	go func() {
		done <- m.ArrayConsolidate(ctx, array)
	}()

	// The exclusive phase must not complete while the reader holds the
	// shared lock.
	select {
	case err := <-done:
		t.Fatalf("consolidation finished while a reader was open: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	// The reader's view is unchanged: its fragment list was loaded at
	// open time and the exclusive phase has not run.
	stillFrags, err := reader.Fragments()
	require.NoError(t, err)
	assert.Equal(t, preFrags, stillFrags)

	require.NoError(t, m.ArrayFinalize(ctx, reader))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("consolidation did not finish after the reader closed")
	}

	arr, err := m.ArrayOpen(ctx, array, core.ModeRead)
	require.NoError(t, err)
	frags, err := arr.Fragments()
	require.NoError(t, err)
	assert.Len(t, frags, 1)
	require.NoError(t, m.ArrayFinalize(ctx, arr))
}

// TestPartialConsolidationRecovery rebuilds the on-disk state of a
// process killed between publishing the new fragment and removing the
// old directories, and verifies a later open is consistent.
func TestPartialConsolidationRecovery(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()

	hiddenOld := writeFragment(t, array, 1, "aaa") // marker already removed
	visibleOld := writeFragment(t, array, 2, "bb") // marker removal never ran
	merged := writeFragment(t, array, 3, "aaabb")  // the published result
	require.NoError(t, fragment.RemoveMarker(hiddenOld))

	arr, err := m.ArrayOpen(ctx, array, core.ModeRead)
	require.NoError(t, err)
	defer func() { require.NoError(t, m.ArrayFinalize(ctx, arr)) }()

	frags, err := arr.Fragments()
	require.NoError(t, err)
	assert.Equal(t, []string{visibleOld, merged}, frags)
}

func TestConsolidateNotAnArray(t *testing.T) {
	m := newTestManager(t)
	ws, _, _ := createArrayTree(t, m)

	err := m.ArrayConsolidate(context.Background(), ws)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestMetadataConsolidate(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()

	meta := filepath.Join(array, "meta")
	require.NoError(t, m.MetadataCreate(ctx, testSchema(meta)))
	writeFragment(t, meta, 1, "aa")
	writeFragment(t, meta, 2, "b")

	require.NoError(t, m.MetadataConsolidate(ctx, meta))

	h, err := m.MetadataOpen(ctx, meta, core.ModeRead)
	require.NoError(t, err)
	frags, err := h.Fragments()
	require.NoError(t, err)
	assert.Len(t, frags, 1)
	require.NoError(t, m.ArrayFinalize(ctx, h))
}

// A consolidator that fails before materialising anything must leave
// the array untouched.
type failingConsolidator struct{}

func (failingConsolidator) Consolidate(string, []string) (string, []string, error) {
	return "", nil, os.ErrPermission
}

func TestConsolidateEngineFailureLeavesStateUntouched(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(Options{Logger: logger, Consolidator: failingConsolidator{}})
	t.Cleanup(func() { _ = m.Finalize() })
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()

	f1 := writeFragment(t, array, 1, "aaa")
	f2 := writeFragment(t, array, 2, "bb")

	err := m.ArrayConsolidate(ctx, array)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindIO))

	// Both fragments stay visible and the registry is clean.
	assert.True(t, fragment.HasMarker(f1))
	assert.True(t, fragment.HasMarker(f2))
	assert.Equal(t, 0, m.openNum())
}
