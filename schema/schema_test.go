package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraydb/tilestore/core"
)

func sampleSchema() *ArraySchema {
	return &ArraySchema{
		ArrayName:  "/w/g/a",
		Dense:      false,
		CellOrder:  core.RowMajor,
		TileOrder:  core.ColMajor,
		Capacity:   10000,
		CoordsType: core.Int64,
		Dimensions: []Dimension{
			{Name: "rows", Domain: [2]float64{0, 99}},
			{Name: "cols", Domain: [2]float64{0, 99}},
		},
		Attributes: []Attribute{
			{Name: "v", Type: core.Int32, CellValNum: 1, Compression: core.CompressionGZIP},
			{Name: "w", Type: core.Float64, CellValNum: VarNum, Compression: core.CompressionNone},
		},
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	s := sampleSchema()
	require.NoError(t, s.Check())

	blob, err := s.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(blob)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSchemaNameRewrite(t *testing.T) {
	s := sampleSchema()
	blob, err := s.Serialize()
	require.NoError(t, err)

	loaded, err := Deserialize(blob)
	require.NoError(t, err)
	loaded.SetArrayName("/w/g/a2")

	blob2, err := loaded.Serialize()
	require.NoError(t, err)
	reloaded, err := Deserialize(blob2)
	require.NoError(t, err)
	assert.Equal(t, "/w/g/a2", reloaded.ArrayName)
	assert.Equal(t, s.Dimensions, reloaded.Dimensions)
	assert.Equal(t, s.Attributes, reloaded.Attributes)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"short":     {1, 2, 3},
		"bad magic": append([]byte{0xde, 0xad, 0xbe, 0xef}, make([]byte, 64)...),
	}
	for name, blob := range cases {
		_, err := Deserialize(blob)
		require.Error(t, err, name)
		assert.True(t, core.IsCorruptSchema(err), name)
	}
}

func TestDeserializeRejectsCorruptBody(t *testing.T) {
	blob, err := sampleSchema().Serialize()
	require.NoError(t, err)

	// Flip a byte inside the compressed body: the checksum must catch it.
	blob[core.FileHeaderSize+6] ^= 0xff
	_, err = Deserialize(blob)
	require.Error(t, err)
	assert.True(t, core.IsCorruptSchema(err))
	assert.Contains(t, err.Error(), "checksum mismatch")

	// Truncation must also fail cleanly.
	_, err = Deserialize(blob[:len(blob)/2])
	require.Error(t, err)
	assert.True(t, core.IsCorruptSchema(err))
}

func TestSchemaCheck(t *testing.T) {
	s := sampleSchema()
	require.NoError(t, s.Check())

	bad := *s
	bad.ArrayName = "relative/name"
	err := bad.Check()
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInvalidPath))

	bad = *s
	bad.Dimensions = nil
	assert.True(t, core.IsCorruptSchema(bad.Check()))

	bad = *s
	bad.Attributes = []Attribute{{Name: "v", Type: core.Int32, CellValNum: 1}, {Name: "v", Type: core.Int32, CellValNum: 1}}
	assert.True(t, core.IsCorruptSchema(bad.Check()))

	// Dimension and attribute names share one namespace.
	bad = *s
	bad.Attributes = []Attribute{{Name: "rows", Type: core.Int32, CellValNum: 1}}
	assert.True(t, core.IsCorruptSchema(bad.Check()))

	bad = *s
	bad.Capacity = 0
	assert.True(t, core.IsCorruptSchema(bad.Check()))

	bad = *s
	bad.Dimensions = []Dimension{{Name: "rows", Domain: [2]float64{9, 1}}}
	assert.True(t, core.IsCorruptSchema(bad.Check()))
}

func TestAttributeAccessor(t *testing.T) {
	s := sampleSchema()
	assert.Equal(t, 2, s.AttributeNum())
	assert.Equal(t, 2, s.DimensionNum())

	name, err := s.Attribute(0)
	require.NoError(t, err)
	assert.Equal(t, "v", name)

	_, err = s.Attribute(2)
	require.Error(t, err)
}
