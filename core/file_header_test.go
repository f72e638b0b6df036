package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	h := NewFileHeader(SchemaMagic, CompressionGZIP)

	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))
	assert.Equal(t, FileHeaderSize, buf.Len())

	got, err := ReadFileHeader(&buf, SchemaMagic)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestFileHeaderBadMagic(t *testing.T) {
	h := NewFileHeader(BookKeepingMagic, CompressionNone)

	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))

	_, err := ReadFileHeader(&buf, SchemaMagic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")
}

func TestFileHeaderFutureVersion(t *testing.T) {
	h := NewFileHeader(SchemaMagic, CompressionNone)
	h.Version = FormatVersion + 1

	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))

	_, err := ReadFileHeader(&buf, SchemaMagic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format version")
}

func TestFileHeaderTruncated(t *testing.T) {
	h := NewFileHeader(SchemaMagic, CompressionLZ4)
	enc := h.Encode()

	_, err := ReadFileHeader(bytes.NewReader(enc[:6]), SchemaMagic)
	require.Error(t, err)
}

func TestDatatypeSize(t *testing.T) {
	assert.Equal(t, 4, Int32.Size())
	assert.Equal(t, 8, Int64.Size())
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Float64.Size())
	assert.Equal(t, 1, Char.Size())
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "read", ModeRead.String())
	assert.Equal(t, "write", ModeWrite.String())
	assert.Equal(t, "row-major", RowMajor.String())
	assert.Equal(t, "col-major", ColMajor.String())
	assert.Equal(t, "gzip", CompressionGZIP.String())
	assert.Equal(t, "zstd", CompressionZSTD.String())
}
