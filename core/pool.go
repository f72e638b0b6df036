package core

import (
	"bytes"
	"sync"
)

// bufferPool hands out reset bytes.Buffers for compression and
// serialization hot paths.
type bufferPool struct {
	p sync.Pool
}

func (bp *bufferPool) Get() *bytes.Buffer {
	b := bp.p.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func (bp *bufferPool) Put(b *bytes.Buffer) {
	bp.p.Put(b)
}

// BufferPool is the shared process-wide buffer pool.
var BufferPool = &bufferPool{
	p: sync.Pool{New: func() interface{} { return new(bytes.Buffer) }},
}
