// Package coords implements the coordinate algebra shared by fragment
// book-keeping and cell ordering: comparators for the supported cell
// orders, range membership, and minimum bounding rectangles.
// Comparators and range helpers are generic over the supported
// coordinate types; the set helpers take any comparable element.
package coords

// Scalar is the set of types a dimension domain can carry.
type Scalar interface {
	~int32 | ~int64 | ~float32 | ~float64
}

// CompareRow compares two coordinate tuples in row-major order: the
// first dimension is the most significant. Returns -1, 0 or 1.
func CompareRow[T Scalar](a, b []T) int {
	for i := range a {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// CompareCol compares two coordinate tuples in column-major order: the
// last dimension is the most significant. Returns -1, 0 or 1.
func CompareCol[T Scalar](a, b []T) int {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// CompareRowWithID orders (id, coords) pairs by id first, breaking ties
// in row-major order. Tile ids group cells into their tiles before the
// in-tile order applies.
func CompareRowWithID[T Scalar](idA int64, a []T, idB int64, b []T) int {
	if idA < idB {
		return -1
	}
	if idA > idB {
		return 1
	}
	return CompareRow(a, b)
}

// InRange reports whether point lies inside rng, where rng holds
// [lo, hi] pairs per dimension and both bounds are inclusive.
func InRange[T Scalar](point, rng []T) bool {
	for i, p := range point {
		if p < rng[2*i] || p > rng[2*i+1] {
			return false
		}
	}
	return true
}

// NewMBR returns the degenerate bounding rectangle containing only
// point.
func NewMBR[T Scalar](point []T) []T {
	mbr := make([]T, 2*len(point))
	for i, p := range point {
		mbr[2*i] = p
		mbr[2*i+1] = p
	}
	return mbr
}

// ExpandMBR grows mbr in place to include point.
func ExpandMBR[T Scalar](mbr, point []T) {
	for i, p := range point {
		if p < mbr[2*i] {
			mbr[2*i] = p
		}
		if p > mbr[2*i+1] {
			mbr[2*i+1] = p
		}
	}
}

// UnionMBR grows dst in place to cover src. Both are [lo, hi] pair
// buffers of the same dimensionality.
func UnionMBR[T Scalar](dst, src []T) {
	for i := 0; i < len(dst); i += 2 {
		if src[i] < dst[i] {
			dst[i] = src[i]
		}
		if src[i+1] > dst[i+1] {
			dst[i+1] = src[i+1]
		}
	}
}

// CellNum returns the number of cells in rng. Meaningful for integer
// domains, where each dimension contributes hi-lo+1 cells.
func CellNum[T Scalar](rng []T) int64 {
	n := int64(1)
	for i := 0; i < len(rng); i += 2 {
		n *= int64(rng[i+1]-rng[i]) + 1
	}
	return n
}

// IsUnary reports whether rng selects exactly one cell on every
// dimension.
func IsUnary[T Scalar](rng []T) bool {
	for i := 0; i < len(rng); i += 2 {
		if rng[i] != rng[i+1] {
			return false
		}
	}
	return true
}

// HasDuplicates reports whether values contains a repeated element.
// Unlike the rest of the package it takes any comparable element, so it
// also serves name uniqueness checks.
func HasDuplicates[T comparable](values []T) bool {
	seen := make(map[T]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}

// Intersect reports whether a and b share at least one element. Like
// HasDuplicates it takes any comparable element.
func Intersect[T comparable](a, b []T) bool {
	seen := make(map[T]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; ok {
			return true
		}
	}
	return false
}
