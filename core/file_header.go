package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// FileHeader prefixes every serialized blob (schemas, book-keeping).
// Fixed little-endian layout so readers can validate before inflating.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64 // unix seconds
	CompressorType CompressionType
}

// FileHeaderSize is the encoded size of a FileHeader in bytes.
const FileHeaderSize = 4 + 1 + 8 + 1

// NewFileHeader stamps a header for a fresh blob of the given magic.
func NewFileHeader(magic uint32, ct CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().Unix(),
		CompressorType: ct,
	}
}

// WriteTo encodes the header to w.
func (h FileHeader) WriteTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, h.Magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.Version); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.CreatedAt); err != nil {
		return fmt.Errorf("write created_at: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.CompressorType); err != nil {
		return fmt.Errorf("write compressor type: %w", err)
	}
	return nil
}

// ReadFileHeader decodes a header from r and validates it against the
// expected magic and the current format version.
func ReadFileHeader(r io.Reader, wantMagic uint32) (FileHeader, error) {
	var h FileHeader
	if err := binary.Read(r, binary.LittleEndian, &h.Magic); err != nil {
		return h, fmt.Errorf("read magic: %w", err)
	}
	if h.Magic != wantMagic {
		return h, fmt.Errorf("bad magic 0x%08x, want 0x%08x", h.Magic, wantMagic)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return h, fmt.Errorf("read version: %w", err)
	}
	if h.Version > FormatVersion {
		return h, fmt.Errorf("unsupported format version %d", h.Version)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.CreatedAt); err != nil {
		return h, fmt.Errorf("read created_at: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.CompressorType); err != nil {
		return h, fmt.Errorf("read compressor type: %w", err)
	}
	return h, nil
}

// Encode returns the header as a byte slice.
func (h FileHeader) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(FileHeaderSize)
	_ = h.WriteTo(&buf)
	return buf.Bytes()
}
