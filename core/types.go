package core

import (
	"bytes"
	"fmt"
	"io"
)

// Mode is the access mode of an open array or metadata handle.
type Mode int

const (
	// ModeRead opens for reading; fragments are loaded and pinned.
	ModeRead Mode = iota
	// ModeWrite opens for appending new fragments.
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Datatype enumerates attribute and coordinate cell types.
type Datatype byte

const (
	Int32 Datatype = iota
	Int64
	Float32
	Float64
	Char
)

func (d Datatype) String() string {
	switch d {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Char:
		return "char"
	default:
		return fmt.Sprintf("datatype(%d)", byte(d))
	}
}

// Size returns the byte width of one cell value, or 1 for Char.
func (d Datatype) Size() int {
	switch d {
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 1
	}
}

// Layout is the physical order of cells or tiles.
type Layout byte

const (
	RowMajor Layout = iota
	ColMajor
)

func (l Layout) String() string {
	switch l {
	case RowMajor:
		return "row-major"
	case ColMajor:
		return "col-major"
	default:
		return fmt.Sprintf("layout(%d)", byte(l))
	}
}

// CompressionType identifies the codec applied to an attribute file or
// bookkeeping blob. The byte values are part of the on-disk format.
type CompressionType byte

const (
	CompressionNone CompressionType = iota
	CompressionGZIP
	CompressionSnappy
	CompressionLZ4
	CompressionZSTD
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGZIP:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression maps a configuration name to its CompressionType.
func ParseCompression(name string) (CompressionType, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGZIP, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", name)
	}
}

// Compressor is the codec contract used for attribute data and
// bookkeeping blobs.
type Compressor interface {
	// Compress returns the compressed form of data.
	Compress(data []byte) ([]byte, error)
	// CompressTo compresses data into dst, resetting dst first.
	CompressTo(dst *bytes.Buffer, src []byte) error
	// Decompress returns a reader over the decompressed data. The
	// caller must close it.
	Decompress(data []byte) (io.ReadCloser, error)
	// Type identifies the codec for header stamping.
	Type() CompressionType
}
