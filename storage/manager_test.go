package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/fragment"
	"github.com/arraydb/tilestore/namespace"
	"github.com/arraydb/tilestore/schema"
	"github.com/arraydb/tilestore/sys"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(Options{Logger: logger})
	t.Cleanup(func() { _ = m.Finalize() })
	return m
}

func testSchema(name string) *schema.ArraySchema {
	return &schema.ArraySchema{
		ArrayName:  name,
		Dense:      false,
		CellOrder:  core.RowMajor,
		TileOrder:  core.RowMajor,
		Capacity:   1024,
		CoordsType: core.Int64,
		Dimensions: []schema.Dimension{
			{Name: "rows", Domain: [2]float64{0, 100}},
			{Name: "cols", Domain: [2]float64{0, 100}},
		},
		Attributes: []schema.Attribute{
			{Name: "v", Type: core.Int32, CellValNum: 1, Compression: core.CompressionGZIP},
		},
	}
}

// createArrayTree builds workspace/group/array under a temp dir and
// returns their paths.
func createArrayTree(t *testing.T, m *Manager) (ws, group, array string) {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	ws = filepath.Join(root, "w")
	group = filepath.Join(ws, "g")
	array = filepath.Join(group, "a")
	require.NoError(t, m.WorkspaceCreate(ctx, ws))
	require.NoError(t, m.GroupCreate(ctx, group))
	require.NoError(t, m.ArrayCreate(ctx, testSchema(array)))
	return ws, group, array
}

// writeFragment materialises a published fragment with one attribute
// file holding payload and book-keeping matching it.
func writeFragment(t *testing.T, arrayDir string, ts int64, payload string) string {
	t.Helper()
	dir := filepath.Join(arrayDir, fmt.Sprintf("__%s_%d", uuid.NewString(), ts))
	require.NoError(t, sys.CreateDir(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v"+core.FileSuffix), []byte(payload), 0o644))
	bk := fragment.New(dir, false, 2)
	bk.CellNum = int64(len(payload))
	copy(bk.MBR, []float64{0, 9, 0, 9})
	require.NoError(t, bk.Flush())
	require.NoError(t, fragment.CreateMarker(dir))
	return dir
}

func TestEntityCreateTree(t *testing.T) {
	m := newTestManager(t)
	ws, group, array := createArrayTree(t, m)

	assert.FileExists(t, filepath.Join(ws, core.WorkspaceFilename))
	assert.FileExists(t, filepath.Join(group, core.GroupFilename))
	assert.FileExists(t, filepath.Join(array, core.ArraySchemaFilename))
	assert.FileExists(t, filepath.Join(array, core.ConsolidationLockName))

	assert.Equal(t, namespace.Workspace, m.DirType(ws))
	assert.Equal(t, namespace.Group, m.DirType(group))
	assert.Equal(t, namespace.Array, m.DirType(array))

	// The stored schema round-trips with its embedded name.
	sch, err := LoadSchema(array)
	require.NoError(t, err)
	assert.Equal(t, array, sch.ArrayName)
	assert.Equal(t, 2, sch.DimensionNum())
}

func TestMetadataCreateUnderArray(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)

	meta := filepath.Join(array, "meta")
	require.NoError(t, m.MetadataCreate(context.Background(), testSchema(meta)))
	assert.FileExists(t, filepath.Join(meta, core.MetadataSchemaFilename))
	assert.FileExists(t, filepath.Join(meta, core.ConsolidationLockName))
	assert.Equal(t, namespace.Metadata, m.DirType(meta))
}

func TestContainmentRejections(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	ws, _, array := createArrayTree(t, m)
	root := filepath.Dir(ws)

	t.Run("WorkspaceInsideWorkspace", func(t *testing.T) {
		err := m.WorkspaceCreate(ctx, filepath.Join(ws, "w2"))
		require.Error(t, err)
		assert.True(t, core.IsContainment(err))
	})
	t.Run("GroupUnderArray", func(t *testing.T) {
		err := m.GroupCreate(ctx, filepath.Join(array, "g2"))
		require.Error(t, err)
		assert.True(t, core.IsContainment(err))
	})
	t.Run("MetadataUnderPlainDirectory", func(t *testing.T) {
		err := m.MetadataCreate(ctx, testSchema(filepath.Join(root, "meta")))
		require.Error(t, err)
		assert.True(t, core.IsContainment(err))
	})
	t.Run("ArrayUnderPlainDirectory", func(t *testing.T) {
		err := m.ArrayCreate(ctx, testSchema(filepath.Join(root, "stray")))
		require.Error(t, err)
		assert.True(t, core.IsContainment(err))
	})
	t.Run("GroupWithMissingParent", func(t *testing.T) {
		err := m.GroupCreate(ctx, filepath.Join(root, "nope", "g"))
		require.Error(t, err)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestCreateExistingEntityFails(t *testing.T) {
	m := newTestManager(t)
	_, group, array := createArrayTree(t, m)
	ctx := context.Background()

	err := m.GroupCreate(ctx, group)
	require.Error(t, err)
	assert.True(t, core.IsAlreadyExists(err))

	err = m.ArrayCreate(ctx, testSchema(array))
	require.Error(t, err)
	assert.True(t, core.IsAlreadyExists(err))
}

func TestLsSkipsForeignEntries(t *testing.T) {
	m := newTestManager(t)
	ws, _, _ := createArrayTree(t, m)

	// Hidden files and non-entity directories must not show up.
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(ws, "not_an_entity"), 0o755))

	entries, err := m.Ls(ws)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{Name: "g", Kind: namespace.Group}, entries[0])
}

func TestLsInto(t *testing.T) {
	m := newTestManager(t)
	_, group, _ := createArrayTree(t, m)
	ws := filepath.Dir(group)

	n, err := m.LsInto(ws, make([]Entry, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := m.LsCount(ws)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = m.LsInto(ws, nil)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindIO))
	assert.True(t, errors.Is(err, io.ErrShortBuffer))
}

func TestMoveArrayRewritesSchema(t *testing.T) {
	m := newTestManager(t)
	_, group, array := createArrayTree(t, m)
	ctx := context.Background()
	writeFragment(t, array, 1, "abc")

	dst := filepath.Join(group, "a2")
	require.NoError(t, m.Move(ctx, array, dst))

	assert.False(t, sys.IsDir(array))
	sch, err := LoadSchema(dst)
	require.NoError(t, err)
	assert.Equal(t, dst, sch.ArrayName)

	// The moved array still opens and sees its fragment.
	arr, err := m.ArrayOpen(ctx, dst, core.ModeRead)
	require.NoError(t, err)
	frags, err := arr.Fragments()
	require.NoError(t, err)
	assert.Len(t, frags, 1)
	require.NoError(t, m.ArrayFinalize(ctx, arr))
}

func TestMoveRejections(t *testing.T) {
	m := newTestManager(t)
	ws, group, array := createArrayTree(t, m)
	ctx := context.Background()

	t.Run("DestinationExists", func(t *testing.T) {
		err := m.Move(ctx, array, group)
		require.Error(t, err)
		assert.True(t, core.IsAlreadyExists(err))
	})
	t.Run("DestinationContainment", func(t *testing.T) {
		err := m.Move(ctx, array, filepath.Join(filepath.Dir(ws), "a-outside"))
		require.Error(t, err)
		assert.True(t, core.IsContainment(err))
	})
	t.Run("SourceMissing", func(t *testing.T) {
		err := m.Move(ctx, filepath.Join(group, "ghost"), filepath.Join(group, "a2"))
		require.Error(t, err)
		assert.True(t, core.IsNotFound(err))
	})
	t.Run("OpenArray", func(t *testing.T) {
		arr, err := m.ArrayOpen(ctx, array, core.ModeRead)
		require.NoError(t, err)
		defer func() { require.NoError(t, m.ArrayFinalize(ctx, arr)) }()

		err = m.Move(ctx, array, filepath.Join(group, "a3"))
		require.Error(t, err)
		assert.True(t, core.IsKind(err, core.KindLock))
	})
}

func TestClearArrayKeepsSchemaAndLock(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()
	writeFragment(t, array, 1, "abc")
	writeFragment(t, array, 2, "def")

	require.NoError(t, m.Clear(ctx, array))

	assert.FileExists(t, filepath.Join(array, core.ArraySchemaFilename))
	assert.FileExists(t, filepath.Join(array, core.ConsolidationLockName))
	dirs, err := sys.ListDirs(array)
	require.NoError(t, err)
	assert.Empty(t, dirs)

	arr, err := m.ArrayOpen(ctx, array, core.ModeRead)
	require.NoError(t, err)
	frags, err := arr.Fragments()
	require.NoError(t, err)
	assert.Empty(t, frags)
	require.NoError(t, m.ArrayFinalize(ctx, arr))
}

func TestDeleteEntireWorkspace(t *testing.T) {
	m := newTestManager(t)
	ws, _, array := createArrayTree(t, m)
	ctx := context.Background()
	writeFragment(t, array, 1, "abc")

	require.NoError(t, m.DeleteEntire(ctx, ws))
	assert.False(t, sys.IsDir(ws))
}

func TestClearArrayRejectsForeignDirectory(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()
	writeFragment(t, array, 1, "abc")

	foreign := filepath.Join(array, "not_tiledb")
	require.NoError(t, sys.CreateDir(foreign))
	require.NoError(t, sys.CreateEmptyFile(filepath.Join(foreign, "keep")))

	err := m.Clear(ctx, array)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindIO))

	// The foreign directory and its contents survive the aborted clear.
	assert.True(t, sys.IsDir(foreign))
	assert.FileExists(t, filepath.Join(foreign, "keep"))

	err = m.DeleteEntire(ctx, array)
	require.Error(t, err)
	assert.True(t, sys.IsDir(array))
}

func TestClearArrayRemovesNestedMetadataAndOrphans(t *testing.T) {
	m := newTestManager(t)
	_, _, array := createArrayTree(t, m)
	ctx := context.Background()

	meta := filepath.Join(array, "meta")
	require.NoError(t, m.MetadataCreate(ctx, testSchema(meta)))
	writeFragment(t, meta, 1, "m")

	// An unpublished fragment left behind by a dead consolidation.
	orphan := writeFragment(t, array, 2, "abc")
	require.NoError(t, fragment.RemoveMarker(orphan))

	require.NoError(t, m.Clear(ctx, array))

	assert.FileExists(t, filepath.Join(array, core.ArraySchemaFilename))
	assert.FileExists(t, filepath.Join(array, core.ConsolidationLockName))
	dirs, err := sys.ListDirs(array)
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestClearRejectsForeignDirectory(t *testing.T) {
	m := newTestManager(t)
	ws, _, _ := createArrayTree(t, m)
	require.NoError(t, os.Mkdir(filepath.Join(ws, "foreign"), 0o755))

	err := m.Clear(context.Background(), ws)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindIO))
}

func TestInvalidPathRejected(t *testing.T) {
	m := newTestManager(t)
	err := m.WorkspaceCreate(context.Background(), "/../escapes")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInvalidPath))
}
