package compressors

import (
	"fmt"

	"github.com/arraydb/tilestore/core"
)

// GetCompressor returns a Compressor instance for the given type. Used
// wherever a compressor must be reconstructed from an on-disk header.
func GetCompressor(compressionType core.CompressionType) (core.Compressor, error) {
	switch compressionType {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionGZIP:
		return NewGzipCompressor(), nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %v", compressionType)
	}
}
