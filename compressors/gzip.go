package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/arraydb/tilestore/core"
)

// gunzipChunkSize is the fixed inflate chunk for streaming
// decompression, and the default initial output buffer size.
const gunzipChunkSize = 16 * 1024

// GzipCompressor implements the Compressor interface with zlib deflate
// at the default level. This is the codec bookkeeping files are written
// with, so its stream format is part of the on-disk format.
type GzipCompressor struct{}

var _ core.Compressor = (*GzipCompressor)(nil)

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{}
}

func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	return Gzip(data)
}

func (c *GzipCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader error: %w", err)
	}
	return zr, nil
}

func (c *GzipCompressor) Type() core.CompressionType {
	return core.CompressionGZIP
}

// CompressTo compresses src into dst with zlib deflate.
func (c *GzipCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	zw := zlib.NewWriter(dst)
	if _, err := zw.Write(src); err != nil {
		_ = zw.Close()
		return fmt.Errorf("zlib compress (to) write error: %w", err)
	}
	return zw.Close()
}

// Gzip deflates data in a single shot and returns the compressed
// stream.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("zlib compress write error: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress close error: %w", err)
	}
	return buf.Bytes(), nil
}

// GunzipInto inflates src into dst and returns the number of bytes
// written. It fails if the stream is malformed, does not end cleanly,
// or produces more data than dst can hold.
func GunzipInto(dst, src []byte) (int, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, fmt.Errorf("zlib reader error: %w", err)
	}
	defer zr.Close()

	total := 0
	for total < len(dst) {
		n, err := zr.Read(dst[total:])
		total += n
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("zlib inflate error: %w", err)
		}
	}
	// dst is full; the stream must end exactly here.
	var probe [1]byte
	switch _, err := io.ReadFull(zr, probe[:]); err {
	case io.EOF:
		return total, nil
	case nil:
		return 0, fmt.Errorf("zlib inflate: decompressed data exceeds %d byte buffer", len(dst))
	default:
		return 0, fmt.Errorf("zlib inflate error: %w", err)
	}
}

// Gunzip inflates src whose decompressed size is unknown. It reads in
// fixed chunks and doubles the output buffer whenever the next chunk
// would overflow it. initialSize sets the starting output capacity; a
// non-positive value uses the chunk size.
func Gunzip(src []byte, initialSize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib reader error: %w", err)
	}
	defer zr.Close()

	if initialSize <= 0 {
		initialSize = gunzipChunkSize
	}
	out := make([]byte, 0, initialSize)
	chunk := make([]byte, gunzipChunkSize)
	for {
		n, err := zr.Read(chunk)
		if n > 0 {
			for len(out)+n > cap(out) {
				grown := make([]byte, len(out), 2*cap(out))
				copy(grown, out)
				out = grown
			}
			out = append(out, chunk[:n]...)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("zlib inflate error: %w", err)
		}
	}
}
