package coords

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareRow(t *testing.T) {
	assert.Equal(t, 0, CompareRow([]int32{1, 2}, []int32{1, 2}))
	assert.Equal(t, -1, CompareRow([]int32{1, 2}, []int32{1, 3}))
	assert.Equal(t, 1, CompareRow([]int32{2, 0}, []int32{1, 9}))
	assert.Equal(t, -1, CompareRow([]float64{1.5}, []float64{2.5}))
}

func TestCompareCol(t *testing.T) {
	// Last dimension dominates.
	assert.Equal(t, -1, CompareCol([]int64{9, 1}, []int64{0, 2}))
	assert.Equal(t, 1, CompareCol([]int64{0, 2}, []int64{9, 1}))
	assert.Equal(t, -1, CompareCol([]int64{1, 2}, []int64{3, 2}))
	assert.Equal(t, 0, CompareCol([]int64{1, 2}, []int64{1, 2}))
}

func TestCompareRowWithID(t *testing.T) {
	assert.Equal(t, -1, CompareRowWithID(1, []int32{9, 9}, 2, []int32{0, 0}))
	assert.Equal(t, 1, CompareRowWithID(3, []int32{0, 0}, 2, []int32{9, 9}))
	assert.Equal(t, -1, CompareRowWithID(2, []int32{1, 2}, 2, []int32{1, 3}))
	assert.Equal(t, 0, CompareRowWithID(2, []int32{1, 2}, 2, []int32{1, 2}))
}

// Comparator laws: antisymmetry, reflexivity and transitivity over
// random tuples.
func TestComparatorLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	tuple := func() []int64 {
		return []int64{rng.Int63n(10), rng.Int63n(10), rng.Int63n(10)}
	}
	for i := 0; i < 200; i++ {
		a, b, c := tuple(), tuple(), tuple()

		assert.Equal(t, 0, CompareRow(a, a))
		assert.Equal(t, -CompareRow(b, a), CompareRow(a, b))
		assert.Equal(t, -CompareCol(b, a), CompareCol(a, b))

		if CompareRow(a, b) <= 0 && CompareRow(b, c) <= 0 {
			assert.LessOrEqual(t, CompareRow(a, c), 0)
		}
	}
}

func TestSortIsRowMajor(t *testing.T) {
	cells := [][]int32{{2, 1}, {1, 2}, {1, 1}, {2, 0}, {0, 9}}
	sort.Slice(cells, func(i, j int) bool { return CompareRow(cells[i], cells[j]) < 0 })
	assert.Equal(t, [][]int32{{0, 9}, {1, 1}, {1, 2}, {2, 0}, {2, 1}}, cells)
}

func TestInRange(t *testing.T) {
	rng := []int32{0, 10, 5, 5}
	assert.True(t, InRange([]int32{0, 5}, rng))
	assert.True(t, InRange([]int32{10, 5}, rng))
	assert.False(t, InRange([]int32{11, 5}, rng))
	assert.False(t, InRange([]int32{3, 4}, rng))

	frng := []float32{-1.5, 1.5}
	assert.True(t, InRange([]float32{0}, frng))
	assert.False(t, InRange([]float32{1.6}, frng))
}

func TestMBR(t *testing.T) {
	mbr := NewMBR([]int64{3, 7})
	assert.Equal(t, []int64{3, 3, 7, 7}, mbr)

	ExpandMBR(mbr, []int64{1, 9})
	assert.Equal(t, []int64{1, 3, 7, 9}, mbr)

	ExpandMBR(mbr, []int64{2, 8})
	assert.Equal(t, []int64{1, 3, 7, 9}, mbr, "interior point must not change the box")

	UnionMBR(mbr, []int64{0, 2, 8, 10})
	assert.Equal(t, []int64{0, 3, 7, 10}, mbr)
}

func TestCellNum(t *testing.T) {
	assert.Equal(t, int64(1), CellNum([]int32{5, 5}))
	assert.Equal(t, int64(11), CellNum([]int32{0, 10}))
	assert.Equal(t, int64(121), CellNum([]int64{0, 10, 0, 10}))
}

func TestIsUnary(t *testing.T) {
	assert.True(t, IsUnary([]int32{5, 5, 7, 7}))
	assert.False(t, IsUnary([]int32{5, 6, 7, 7}))
	assert.True(t, IsUnary([]float64{1.5, 1.5}))
}

func TestHasDuplicates(t *testing.T) {
	assert.False(t, HasDuplicates([]int32{1, 2, 3}))
	assert.True(t, HasDuplicates([]int32{1, 2, 1}))
	assert.False(t, HasDuplicates([]float64{}))
	assert.True(t, HasDuplicates([]string{"rows", "cols", "rows"}))
	assert.False(t, HasDuplicates([]string{"rows", "cols", "v"}))
}

func TestIntersect(t *testing.T) {
	assert.True(t, Intersect([]int64{1, 2, 3}, []int64{9, 3}))
	assert.False(t, Intersect([]int64{1, 2, 3}, []int64{4, 5}))
	assert.False(t, Intersect([]int64{}, []int64{1}))
}
