// Package alloc provides fixed-memory allocators: a first-fit block heap
// carved out of a caller-supplied pool, and a fixed-size slab pool.
// Neither is safe for concurrent use.
package alloc

import (
	"fmt"
	"unsafe"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

// HeaderSize is the bookkeeping overhead charged against the pool for
// every block, rounded up to the heap alignment.
const HeaderSize = 16

type block struct {
	off       int // header offset in the pool
	size      int // payload bytes
	next      int // table index of the next block by address, -1 at the end
	allocated bool
}

// Heap is a first-fit allocator over a fixed pool. Blocks are kept in an
// address-ordered list inside an index-linked table; payloads alias the pool.
type Heap struct {
	pool      []byte
	alignment int
	hdr       int

	blocks []block
	spare  []int
	head   int
}

// HeapStats describes heap occupancy.
type HeapStats struct {
	Blocks    int
	UsedBytes int
	FreeBytes int
}

// NewHeap carves pool into a single free block. The pool's base address
// must be aligned to alignment, which must be a power of two >= 2.
func NewHeap(pool []byte, alignment int) (*Heap, error) {
	if alignment < 2 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("heap: alignment %d: %w", alignment, errs.ErrInvalidArgument)
	}
	if len(pool) == 0 || uintptr(unsafe.Pointer(&pool[0]))&uintptr(alignment-1) != 0 {
		return nil, fmt.Errorf("heap: pool not %d-byte aligned: %w", alignment, errs.ErrInvalidArgument)
	}

	hdr := alignUp(HeaderSize, alignment)
	if len(pool) < hdr+alignment {
		return nil, fmt.Errorf("heap: pool of %d bytes too small: %w", len(pool), errs.ErrInvalidArgument)
	}

	h := &Heap{pool: pool, alignment: alignment, hdr: hdr}
	h.head = h.newBlock(block{
		off:  0,
		size: alignDown(len(pool)-hdr, alignment),
		next: -1,
	})
	return h, nil
}

// Alloc returns size bytes from the first free block large enough after
// merging any run of free blocks that follows it.
func (h *Heap) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("heap: alloc %d bytes: %w", size, errs.ErrInvalidArgument)
	}
	want := alignUp(size, h.alignment)

	for i := h.head; i != -1; i = h.blocks[i].next {
		if h.blocks[i].allocated {
			continue
		}
		h.mergeFree(i, -1)
		if h.blocks[i].size < want {
			continue
		}

		if rem := h.blocks[i].size - want; rem > h.hdr {
			b := h.blocks[i]
			tail := h.newBlock(block{
				off:  b.off + h.hdr + want,
				size: rem - h.hdr,
				next: b.next,
			})
			h.blocks[i].next = tail
			h.blocks[i].size = want
		}

		b := &h.blocks[i]
		b.allocated = true
		start := b.off + h.hdr
		return h.pool[start : start+size : start+b.size], nil
	}

	return nil, fmt.Errorf("heap: alloc %d bytes: %w", size, errs.ErrOutOfMemory)
}

// Free releases a buffer returned by Alloc. The block is merged with its
// successor when that one is free; earlier neighbours are merged lazily by
// the next Alloc walk.
func (h *Heap) Free(p []byte) error {
	if cap(p) == 0 {
		return fmt.Errorf("heap: free of empty buffer: %w", errs.ErrInvalidArgument)
	}
	off := int(uintptr(unsafe.Pointer(unsafe.SliceData(p))) - uintptr(unsafe.Pointer(&h.pool[0])))
	if off < h.hdr || off >= len(h.pool) {
		return fmt.Errorf("heap: free of foreign buffer: %w", errs.ErrInvalidArgument)
	}

	for i := h.head; i != -1; i = h.blocks[i].next {
		b := &h.blocks[i]
		if b.off+h.hdr != off {
			continue
		}
		if !b.allocated {
			return fmt.Errorf("heap: double free at offset %d: %w", off, errs.ErrInvalidArgument)
		}
		b.allocated = false
		h.mergeFree(i, 1)
		return nil
	}
	return fmt.Errorf("heap: no block at offset %d: %w", off, errs.ErrInvalidArgument)
}

// Stats walks the block list.
func (h *Heap) Stats() HeapStats {
	var st HeapStats
	for i := h.head; i != -1; i = h.blocks[i].next {
		st.Blocks++
		if h.blocks[i].allocated {
			st.UsedBytes += h.blocks[i].size
		} else {
			st.FreeBytes += h.blocks[i].size
		}
	}
	return st
}

// mergeFree absorbs up to limit free successors of block i (all of them
// when limit < 0).
func (h *Heap) mergeFree(i, limit int) {
	for n := 0; limit < 0 || n < limit; n++ {
		next := h.blocks[i].next
		if next == -1 || h.blocks[next].allocated {
			return
		}
		h.blocks[i].size += h.hdr + h.blocks[next].size
		h.blocks[i].next = h.blocks[next].next
		h.spare = append(h.spare, next)
	}
}

func (h *Heap) newBlock(b block) int {
	if n := len(h.spare); n > 0 {
		idx := h.spare[n-1]
		h.spare = h.spare[:n-1]
		h.blocks[idx] = b
		return idx
	}
	h.blocks = append(h.blocks, b)
	return len(h.blocks) - 1
}

func alignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

func alignDown(n, a int) int {
	return n &^ (a - 1)
}

var _ BufferAllocator = (*Heap)(nil)
