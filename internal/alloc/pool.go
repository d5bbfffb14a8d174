package alloc

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

// Bucket sizes for BufferPool. Control transfers fit the smallest bucket;
// bulk transfers of up to one USB/IP max transfer fit the largest.
const (
	size512 = 512
	size4k  = 4 * 1024
	size16k = 16 * 1024
	size64k = 64 * 1024
)

// BufferPool is the general-heap BufferAllocator. It keeps size-bucketed
// sync.Pools of *[]byte; requests above the largest bucket are allocated
// directly and never pooled.
type BufferPool struct {
	pool512 sync.Pool
	pool4k  sync.Pool
	pool16k sync.Pool
	pool64k sync.Pool
}

// NewBufferPool returns an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool512: sync.Pool{New: func() any { b := make([]byte, size512); return &b }},
		pool4k:  sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
		pool16k: sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
		pool64k: sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	}
}

// Alloc returns a zeroed buffer of exactly size bytes.
func (p *BufferPool) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: alloc %d bytes: %w", size, errs.ErrInvalidArgument)
	}

	var buf []byte
	switch {
	case size <= size512:
		buf = (*p.pool512.Get().(*[]byte))[:size]
	case size <= size4k:
		buf = (*p.pool4k.Get().(*[]byte))[:size]
	case size <= size16k:
		buf = (*p.pool16k.Get().(*[]byte))[:size]
	case size <= size64k:
		buf = (*p.pool64k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size), nil
	}
	clear(buf)
	return buf, nil
}

// Free returns buf to the bucket matching its capacity.
func (p *BufferPool) Free(buf []byte) error {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size512:
		p.pool512.Put(&buf)
	case size4k:
		p.pool4k.Put(&buf)
	case size16k:
		p.pool16k.Put(&buf)
	case size64k:
		p.pool64k.Put(&buf)
	}
	return nil
}

var _ BufferAllocator = (*BufferPool)(nil)
