// Package schema defines the array schema and its serialized blob
// format. The same schema type describes arrays and metadata; the
// storage layer decides which marker file the blob lands in.
package schema

import (
	"github.com/arraydb/tilestore/coords"
	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/paths"
)

// VarNum marks an attribute holding a variable number of values per
// cell.
const VarNum int32 = -1

// Dimension is one axis of the array domain.
type Dimension struct {
	Name   string
	Domain [2]float64 // inclusive [lo, hi]
}

// Attribute describes one value stored per cell.
type Attribute struct {
	Name        string
	Type        core.Datatype
	CellValNum  int32 // values per cell, or VarNum
	Compression core.CompressionType
}

// ArraySchema is the full description of an array: its canonical path,
// domain, physical order and attributes. Immutable once an array is
// created, except for the embedded name which moves rewrite.
type ArraySchema struct {
	ArrayName  string // canonical array path
	Dense      bool
	CellOrder  core.Layout
	TileOrder  core.Layout
	Capacity   int64 // cells per data tile (sparse arrays)
	CoordsType core.Datatype
	Dimensions []Dimension
	Attributes []Attribute
}

// DimensionNum returns the number of dimensions.
func (s *ArraySchema) DimensionNum() int { return len(s.Dimensions) }

// AttributeNum returns the number of attributes.
func (s *ArraySchema) AttributeNum() int { return len(s.Attributes) }

// Attribute returns the name of attribute i.
func (s *ArraySchema) Attribute(i int) (string, error) {
	if i < 0 || i >= len(s.Attributes) {
		return "", core.Errorf(core.KindCorruptSchema, "schema attribute", s.ArrayName,
			"attribute index %d out of range [0,%d)", i, len(s.Attributes))
	}
	return s.Attributes[i].Name, nil
}

// SetArrayName replaces the embedded array path. Used when an array is
// moved so the re-serialised schema matches its new location.
func (s *ArraySchema) SetArrayName(p string) { s.ArrayName = p }

// Check validates the schema before it is serialised for creation.
func (s *ArraySchema) Check() error {
	const op = "schema check"
	if s.ArrayName == "" || paths.Canonical(s.ArrayName) != s.ArrayName {
		return core.Errorf(core.KindInvalidPath, op, s.ArrayName, "array name is not a canonical path")
	}
	if len(s.ArrayName) > core.MaxNameLen {
		return core.Errorf(core.KindInvalidPath, op, s.ArrayName, "array name exceeds %d bytes", core.MaxNameLen)
	}
	if len(s.Dimensions) == 0 {
		return core.Errorf(core.KindCorruptSchema, op, s.ArrayName, "schema has no dimensions")
	}
	if len(s.Attributes) == 0 {
		return core.Errorf(core.KindCorruptSchema, op, s.ArrayName, "schema has no attributes")
	}
	if !s.Dense && s.Capacity <= 0 {
		return core.Errorf(core.KindCorruptSchema, op, s.ArrayName, "sparse schema needs a positive capacity")
	}
	names := make([]string, 0, len(s.Dimensions)+len(s.Attributes))
	for _, d := range s.Dimensions {
		if d.Name == "" {
			return core.Errorf(core.KindCorruptSchema, op, s.ArrayName, "dimension with empty name")
		}
		if d.Domain[0] > d.Domain[1] {
			return core.Errorf(core.KindCorruptSchema, op, s.ArrayName,
				"dimension %q domain low %v above high %v", d.Name, d.Domain[0], d.Domain[1])
		}
		names = append(names, d.Name)
	}
	for _, a := range s.Attributes {
		if a.Name == "" {
			return core.Errorf(core.KindCorruptSchema, op, s.ArrayName, "attribute with empty name")
		}
		if a.CellValNum == 0 || a.CellValNum < VarNum {
			return core.Errorf(core.KindCorruptSchema, op, s.ArrayName,
				"attribute %q has invalid cell value count %d", a.Name, a.CellValNum)
		}
		names = append(names, a.Name)
	}
	// Dimension and attribute names share one namespace.
	if coords.HasDuplicates(names) {
		return core.Errorf(core.KindCorruptSchema, op, s.ArrayName, "duplicate dimension or attribute name")
	}
	return nil
}
