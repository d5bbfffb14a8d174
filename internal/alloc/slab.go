package alloc

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

// WordSize is the minimum slot size: every free slot stores a link word.
const WordSize = 8

// untouched marks the slot at the free cursor as never handed out.
// Links to freed slots are stored as offset<<1 and are always even.
const untouched = 1

// Slab hands out fixed-size slots from a pool. Freed slots form a LIFO
// list threaded through their first word.
type Slab struct {
	pool    []byte
	objSize int
	free    int
}

// NewSlab clamps objSize up to WordSize and truncates pool to a whole
// number of slots.
func NewSlab(objSize int, pool []byte) (*Slab, error) {
	if objSize < WordSize {
		objSize = WordSize
	}
	n := len(pool) / objSize * objSize
	if n == 0 {
		return nil, fmt.Errorf("slab: pool of %d bytes holds no %d-byte slot: %w",
			len(pool), objSize, errs.ErrInvalidArgument)
	}

	s := &Slab{pool: pool[:n:n], objSize: objSize}
	binary.LittleEndian.PutUint64(s.pool, untouched)
	return s, nil
}

// NewSlabSlots returns a slab of n word-sized slots for use as a
// SlotAllocator.
func NewSlabSlots(n int) (*Slab, error) {
	if n <= 0 {
		return nil, fmt.Errorf("slab: %d slots: %w", n, errs.ErrInvalidArgument)
	}
	return NewSlab(WordSize, make([]byte, n*WordSize))
}

// ObjSize returns the effective slot size.
func (s *Slab) ObjSize() int { return s.objSize }

// Slots returns the slot count.
func (s *Slab) Slots() int { return len(s.pool) / s.objSize }

// AllocSlot returns the index of a free slot.
func (s *Slab) AllocSlot() (int, error) {
	if s.free >= len(s.pool) {
		return -1, fmt.Errorf("slab: %w", errs.ErrOutOfMemory)
	}

	off := s.free
	link := binary.LittleEndian.Uint64(s.pool[off:])
	if link == untouched {
		s.free = off + s.objSize
		if s.free < len(s.pool) {
			binary.LittleEndian.PutUint64(s.pool[s.free:], untouched)
		}
	} else {
		s.free = int(link >> 1)
	}
	return off / s.objSize, nil
}

// FreeSlot pushes slot onto the free list. The slot is not validated.
func (s *Slab) FreeSlot(slot int) {
	off := slot * s.objSize
	binary.LittleEndian.PutUint64(s.pool[off:], uint64(s.free)<<1)
	s.free = off
}

// Alloc returns a slot as a byte slice aliasing the pool.
func (s *Slab) Alloc() ([]byte, error) {
	slot, err := s.AllocSlot()
	if err != nil {
		return nil, err
	}
	off := slot * s.objSize
	return s.pool[off : off+s.objSize : off+s.objSize], nil
}

// Free returns a slot obtained from Alloc.
func (s *Slab) Free(p []byte) {
	off := int(uintptr(unsafe.Pointer(unsafe.SliceData(p))) - uintptr(unsafe.Pointer(&s.pool[0])))
	s.FreeSlot(off / s.objSize)
}

var _ SlotAllocator = (*Slab)(nil)
