package schema

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/arraydb/tilestore/compressors"
	"github.com/arraydb/tilestore/core"
)

// Blob layout: FileHeader | uint32 body length | zlib-compressed body |
// uint32 CRC32-IEEE of the compressed body. All integers little-endian.

// Serialize encodes the schema into its on-disk blob.
func (s *ArraySchema) Serialize() ([]byte, error) {
	const op = "schema serialize"

	body := core.BufferPool.Get()
	defer core.BufferPool.Put(body)
	if err := s.encodeBody(body); err != nil {
		return nil, core.WrapError(core.KindCorruptSchema, op, s.ArrayName, err)
	}

	compressed, err := compressors.Gzip(body.Bytes())
	if err != nil {
		return nil, core.WrapError(core.KindCompression, op, s.ArrayName, err)
	}

	var out bytes.Buffer
	out.Grow(core.FileHeaderSize + 8 + len(compressed))
	hdr := core.NewFileHeader(core.SchemaMagic, core.CompressionGZIP)
	if err := hdr.WriteTo(&out); err != nil {
		return nil, core.WrapError(core.KindIO, op, s.ArrayName, err)
	}
	if err := binary.Write(&out, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return nil, core.WrapError(core.KindIO, op, s.ArrayName, err)
	}
	out.Write(compressed)
	if err := binary.Write(&out, binary.LittleEndian, crc32.ChecksumIEEE(compressed)); err != nil {
		return nil, core.WrapError(core.KindIO, op, s.ArrayName, err)
	}
	return out.Bytes(), nil
}

// Deserialize decodes a schema blob produced by Serialize. Empty or
// malformed blobs yield a corrupt-schema error.
func Deserialize(data []byte) (*ArraySchema, error) {
	const op = "schema deserialize"
	if len(data) == 0 {
		return nil, core.Errorf(core.KindCorruptSchema, op, "", "empty schema blob")
	}

	r := bytes.NewReader(data)
	hdr, err := core.ReadFileHeader(r, core.SchemaMagic)
	if err != nil {
		return nil, core.WrapError(core.KindCorruptSchema, op, "", err)
	}
	var compLen uint32
	if err := binary.Read(r, binary.LittleEndian, &compLen); err != nil {
		return nil, core.WrapError(core.KindCorruptSchema, op, "", err)
	}
	if int(compLen) > r.Len() {
		return nil, core.Errorf(core.KindCorruptSchema, op, "",
			"body length %d exceeds remaining %d bytes", compLen, r.Len())
	}
	compressed := make([]byte, compLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, core.WrapError(core.KindCorruptSchema, op, "", err)
	}
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, core.WrapError(core.KindCorruptSchema, op, "", err)
	}
	if got := crc32.ChecksumIEEE(compressed); got != sum {
		return nil, core.Errorf(core.KindCorruptSchema, op, "",
			"checksum mismatch: got 0x%08x, want 0x%08x", got, sum)
	}

	comp, err := compressors.GetCompressor(hdr.CompressorType)
	if err != nil {
		return nil, core.WrapError(core.KindCorruptSchema, op, "", err)
	}
	rc, err := comp.Decompress(compressed)
	if err != nil {
		return nil, core.WrapError(core.KindCompression, op, "", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, core.WrapError(core.KindCompression, op, "", err)
	}

	s := new(ArraySchema)
	if err := s.decodeBody(bytes.NewReader(body)); err != nil {
		return nil, core.WrapError(core.KindCorruptSchema, op, "", err)
	}
	return s, nil
}

func (s *ArraySchema) encodeBody(w *bytes.Buffer) error {
	if err := writeString(w, s.ArrayName); err != nil {
		return err
	}
	dense := uint8(0)
	if s.Dense {
		dense = 1
	}
	for _, v := range []interface{}{
		dense,
		uint8(s.CellOrder),
		uint8(s.TileOrder),
		s.Capacity,
		uint8(s.CoordsType),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.Dimensions))); err != nil {
		return err
	}
	for _, d := range s.Dimensions {
		if err := writeString(w, d.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, d.Domain); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.Attributes))); err != nil {
		return err
	}
	for _, a := range s.Attributes {
		if err := writeString(w, a.Name); err != nil {
			return err
		}
		for _, v := range []interface{}{uint8(a.Type), a.CellValNum, uint8(a.Compression)} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ArraySchema) decodeBody(r *bytes.Reader) error {
	var err error
	if s.ArrayName, err = readString(r); err != nil {
		return err
	}
	var dense, cellOrder, tileOrder, coordsType uint8
	for _, v := range []interface{}{&dense, &cellOrder, &tileOrder, &s.Capacity, &coordsType} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	s.Dense = dense != 0
	s.CellOrder = core.Layout(cellOrder)
	s.TileOrder = core.Layout(tileOrder)
	s.CoordsType = core.Datatype(coordsType)

	var dimNum uint32
	if err := binary.Read(r, binary.LittleEndian, &dimNum); err != nil {
		return err
	}
	if int(dimNum) > r.Len() {
		return fmt.Errorf("dimension count %d exceeds remaining bytes", dimNum)
	}
	s.Dimensions = make([]Dimension, dimNum)
	for i := range s.Dimensions {
		if s.Dimensions[i].Name, err = readString(r); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Dimensions[i].Domain); err != nil {
			return err
		}
	}

	var attrNum uint32
	if err := binary.Read(r, binary.LittleEndian, &attrNum); err != nil {
		return err
	}
	if int(attrNum) > r.Len() {
		return fmt.Errorf("attribute count %d exceeds remaining bytes", attrNum)
	}
	s.Attributes = make([]Attribute, attrNum)
	for i := range s.Attributes {
		if s.Attributes[i].Name, err = readString(r); err != nil {
			return err
		}
		var typ, comp uint8
		for _, v := range []interface{}{&typ, &s.Attributes[i].CellValNum, &comp} {
			if err := binary.Read(r, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		s.Attributes[i].Type = core.Datatype(typ)
		s.Attributes[i].Compression = core.CompressionType(comp)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after schema body", r.Len())
	}
	return nil
}

func writeString(w *bytes.Buffer, s string) error {
	if len(s) > core.MaxNameLen {
		return fmt.Errorf("string of %d bytes exceeds name limit", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > core.MaxNameLen {
		return "", fmt.Errorf("string length %d exceeds name limit", n)
	}
	if int(n) > r.Len() {
		return "", fmt.Errorf("string length %d exceeds remaining bytes", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
