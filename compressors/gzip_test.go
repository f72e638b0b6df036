package compressors

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("a"),
		[]byte("hello tiledb"),
		bytes1k(),
	}
	for _, in := range cases {
		compressed, err := Gzip(in)
		require.NoError(t, err)

		out, err := Gunzip(compressed, 0)
		require.NoError(t, err)
		assert.Equal(t, len(in), len(out))
		assert.Equal(t, []byte(in), append([]byte{}, out...))
	}
}

func TestGunzipStreamingFromOneByte(t *testing.T) {
	in := bytes1k()
	compressed, err := Gzip(in)
	require.NoError(t, err)

	out, err := Gunzip(compressed, 1)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGunzipStreamingLargeRandom(t *testing.T) {
	in := make([]byte, 1<<20)
	rng := rand.New(rand.NewSource(42))
	rng.Read(in)

	compressed, err := Gzip(in)
	require.NoError(t, err)

	out, err := Gunzip(compressed, 16*1024)
	require.NoError(t, err)
	require.Len(t, out, 1<<20)
	assert.Equal(t, in, out)
}

func TestGunzipInto(t *testing.T) {
	in := []byte("fixed buffer decompression")
	compressed, err := Gzip(in)
	require.NoError(t, err)

	// Exact-size buffer.
	dst := make([]byte, len(in))
	n, err := GunzipInto(dst, compressed)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, in, dst[:n])

	// Roomy buffer.
	dst = make([]byte, len(in)+100)
	n, err = GunzipInto(dst, compressed)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)

	// Too-small buffer must fail, not truncate.
	dst = make([]byte, len(in)-1)
	_, err = GunzipInto(dst, compressed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestGunzipCorruptInput(t *testing.T) {
	_, err := Gunzip([]byte("not a zlib stream"), 0)
	require.Error(t, err)

	compressed, err := Gzip(bytes1k())
	require.NoError(t, err)
	_, err = Gunzip(compressed[:len(compressed)/2], 0)
	require.Error(t, err)
}

func TestGzipCompressorInterface(t *testing.T) {
	c := NewGzipCompressor()
	in := bytes1k()

	compressed, err := c.Compress(in)
	require.NoError(t, err)

	rc, err := c.Decompress(compressed)
	require.NoError(t, err)
	defer rc.Close()

	out := make([]byte, 0, len(in))
	buf := make([]byte, 256)
	for {
		n, err := rc.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	assert.Equal(t, in, out)
}

func bytes1k() []byte {
	b := make([]byte, 1024)
	for i := range b {
		b[i] = byte(i % 7) // repetitive, so it actually compresses
	}
	return b
}
