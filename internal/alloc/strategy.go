package alloc

// SlotAllocator hands out node slots by index. The list package stores
// its nodes in an arena indexed by these slots.
type SlotAllocator interface {
	AllocSlot() (int, error)
	FreeSlot(slot int)
}

// BufferAllocator hands out byte buffers for transfers.
type BufferAllocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte) error
}

// Dynamic is an unbounded SlotAllocator backed by the Go heap.
type Dynamic struct {
	next int
	free []int
}

// NewDynamic returns an empty Dynamic allocator.
func NewDynamic() *Dynamic {
	return &Dynamic{}
}

func (d *Dynamic) AllocSlot() (int, error) {
	if n := len(d.free); n > 0 {
		slot := d.free[n-1]
		d.free = d.free[:n-1]
		return slot, nil
	}
	d.next++
	return d.next - 1, nil
}

func (d *Dynamic) FreeSlot(slot int) {
	d.free = append(d.free, slot)
}

var _ SlotAllocator = (*Dynamic)(nil)
