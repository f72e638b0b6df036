package fragment

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"path/filepath"

	"github.com/arraydb/tilestore/compressors"
	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/sys"
)

// BookKeeping is the summary state of one fragment, loaded at open
// time: whether it is dense, how many cells it holds, and the bounding
// rectangle of its coordinates (empty for dense fragments). Stored
// zlib-compressed next to the fragment's data files.
type BookKeeping struct {
	FragmentPath string
	Dense        bool
	CellNum      int64
	MBR          []float64 // [lo, hi] per dimension; nil when dense
}

// New returns in-memory book-keeping for a fragment being written.
func New(fragmentPath string, dense bool, dimNum int) *BookKeeping {
	bk := &BookKeeping{FragmentPath: fragmentPath, Dense: dense}
	if !dense {
		bk.MBR = make([]float64, 2*dimNum)
	}
	return bk
}

func (bk *BookKeeping) filename() string {
	return filepath.Join(bk.FragmentPath, core.BookKeepingFilename)
}

// Load reads the fragment's book-keeping file into bk.
func (bk *BookKeeping) Load() error {
	const op = "book-keeping load"
	data, err := sys.ReadFile(bk.filename())
	if err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}

	r := bytes.NewReader(data)
	hdr, err := core.ReadFileHeader(r, core.BookKeepingMagic)
	if err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	var compLen uint32
	if err := binary.Read(r, binary.LittleEndian, &compLen); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	if int(compLen) > r.Len() {
		return core.Errorf(core.KindIO, op, bk.FragmentPath,
			"body length %d exceeds remaining %d bytes", compLen, r.Len())
	}
	compressed := make([]byte, compLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	if got := crc32.ChecksumIEEE(compressed); got != sum {
		return core.Errorf(core.KindIO, op, bk.FragmentPath,
			"checksum mismatch: got 0x%08x, want 0x%08x", got, sum)
	}

	comp, err := compressors.GetCompressor(hdr.CompressorType)
	if err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	rc, err := comp.Decompress(compressed)
	if err != nil {
		return core.WrapError(core.KindCompression, op, bk.FragmentPath, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return core.WrapError(core.KindCompression, op, bk.FragmentPath, err)
	}
	return bk.decodeBody(bytes.NewReader(body))
}

// Flush writes the book-keeping file, replacing any previous one.
func (bk *BookKeeping) Flush() error {
	const op = "book-keeping flush"

	body := core.BufferPool.Get()
	defer core.BufferPool.Put(body)
	if err := bk.encodeBody(body); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	compressed, err := compressors.Gzip(body.Bytes())
	if err != nil {
		return core.WrapError(core.KindCompression, op, bk.FragmentPath, err)
	}

	var out bytes.Buffer
	out.Grow(core.FileHeaderSize + 8 + len(compressed))
	hdr := core.NewFileHeader(core.BookKeepingMagic, core.CompressionGZIP)
	if err := hdr.WriteTo(&out); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	if err := binary.Write(&out, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	out.Write(compressed)
	if err := binary.Write(&out, binary.LittleEndian, crc32.ChecksumIEEE(compressed)); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}

	if err := sys.WriteFileSync(bk.filename(), out.Bytes()); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	return nil
}

func (bk *BookKeeping) encodeBody(w *bytes.Buffer) error {
	dense := uint8(0)
	if bk.Dense {
		dense = 1
	}
	if err := binary.Write(w, binary.LittleEndian, dense); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, bk.CellNum); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(bk.MBR))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, bk.MBR)
}

func (bk *BookKeeping) decodeBody(r *bytes.Reader) error {
	const op = "book-keeping load"
	var dense uint8
	if err := binary.Read(r, binary.LittleEndian, &dense); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	bk.Dense = dense != 0
	if err := binary.Read(r, binary.LittleEndian, &bk.CellNum); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	var mbrLen uint32
	if err := binary.Read(r, binary.LittleEndian, &mbrLen); err != nil {
		return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
	}
	if int(mbrLen)*8 > r.Len() {
		return core.Errorf(core.KindIO, op, bk.FragmentPath,
			"mbr length %d exceeds remaining bytes", mbrLen)
	}
	if mbrLen%2 != 0 {
		return core.Errorf(core.KindIO, op, bk.FragmentPath,
			"mbr length %d is not a [lo, hi] pair buffer", mbrLen)
	}
	bk.MBR = nil
	if mbrLen > 0 {
		bk.MBR = make([]float64, mbrLen)
		if err := binary.Read(r, binary.LittleEndian, &bk.MBR); err != nil {
			return core.WrapError(core.KindIO, op, bk.FragmentPath, err)
		}
	}
	if r.Len() != 0 {
		return core.Errorf(core.KindIO, op, bk.FragmentPath,
			"%d trailing bytes after book-keeping body", r.Len())
	}
	return nil
}
