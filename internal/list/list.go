// Package list implements a doubly linked list whose nodes live in an
// arena indexed by slots from an injected allocator. A fixed slab makes
// the list bounded; alloc.Dynamic makes it grow on demand.
package list

import (
	"fmt"

	"github.com/ehrlich-b/go-usbip/internal/alloc"
	"github.com/ehrlich-b/go-usbip/internal/errs"
)

const nilIdx = -1

type node[T any] struct {
	data T
	next int
	prev int
	gen  uint32
	live bool
}

// List is an ordered collection. The list owns its nodes, not the values
// stored in them. It is not safe for concurrent use.
type List[T any] struct {
	alloc alloc.SlotAllocator
	nodes []node[T]
	first int
	last  int
	size  int

	// unlinks counts removals so Iterate can tell when fn reshaped the list
	unlinks uint64
}

// New returns an empty list drawing node slots from a.
func New[T any](a alloc.SlotAllocator) (*List[T], error) {
	if a == nil {
		return nil, fmt.Errorf("list: nil allocator: %w", errs.ErrInvalidArgument)
	}
	return &List[T]{alloc: a, first: nilIdx, last: nilIdx}, nil
}

// Len returns the number of elements.
func (l *List[T]) Len() int { return l.size }

// Push appends v at the tail.
func (l *List[T]) Push(v T) error {
	slot, err := l.alloc.AllocSlot()
	if err != nil {
		return fmt.Errorf("list: push: %w", err)
	}
	if slot >= len(l.nodes) {
		l.nodes = append(l.nodes, make([]node[T], slot+1-len(l.nodes))...)
	}

	n := &l.nodes[slot]
	n.data = v
	n.next = nilIdx
	n.prev = l.last
	n.live = true

	if l.last == nilIdx {
		l.first = slot
	} else {
		l.nodes[l.last].next = slot
	}
	l.last = slot
	l.size++
	return nil
}

// Get returns the element at index i, walking from whichever end is nearer.
func (l *List[T]) Get(i int) (T, bool) {
	idx := l.nodeAt(i)
	if idx == nilIdx {
		var zero T
		return zero, false
	}
	return l.nodes[idx].data, true
}

// Remove unlinks the element at index i and returns it.
func (l *List[T]) Remove(i int) (T, bool) {
	idx := l.nodeAt(i)
	if idx == nilIdx {
		var zero T
		return zero, false
	}
	return l.unlink(idx), true
}

// Find returns the first element matching pred and its index.
func (l *List[T]) Find(pred func(T) bool) (T, int, bool) {
	i := 0
	for n := l.first; n != nilIdx; n = l.nodes[n].next {
		if pred(l.nodes[n].data) {
			return l.nodes[n].data, i, true
		}
		i++
	}
	var zero T
	return zero, -1, false
}

// RemoveFunc removes the first element matching pred.
func (l *List[T]) RemoveFunc(pred func(T) bool) (T, bool) {
	for n := l.first; n != nilIdx; n = l.nodes[n].next {
		if pred(l.nodes[n].data) {
			return l.unlink(n), true
		}
	}
	var zero T
	return zero, false
}

// Values returns the elements in order.
func (l *List[T]) Values() []T {
	out := make([]T, 0, l.size)
	for n := l.first; n != nilIdx; n = l.nodes[n].next {
		out = append(out, l.nodes[n].data)
	}
	return out
}

type handle struct {
	idx int
	gen uint32
}

// Iterate calls fn for each element present when iteration starts, passing
// its current index. fn may Remove any element, including the one it is
// visiting, and the index passed to later calls accounts for it.
// Returning true removes the visited element if fn has not already done
// so. Elements pushed during iteration are not visited.
func (l *List[T]) Iterate(fn func(v T, i int) bool) {
	handles := make([]handle, 0, l.size)
	for n := l.first; n != nilIdx; n = l.nodes[n].next {
		handles = append(handles, handle{idx: n, gen: l.nodes[n].gen})
	}

	pos, stale := 0, false
	for _, h := range handles {
		if !l.valid(h) {
			continue
		}
		if stale {
			pos, stale = l.indexOf(h.idx), false
		}
		unlinks := l.unlinks
		remove := fn(l.nodes[h.idx].data, pos)
		stale = l.unlinks != unlinks
		if !l.valid(h) {
			continue
		}
		if remove {
			l.unlink(h.idx)
			continue
		}
		pos++
	}
}

// indexOf counts the elements ahead of node idx.
func (l *List[T]) indexOf(idx int) int {
	i := 0
	for n := l.nodes[idx].prev; n != nilIdx; n = l.nodes[n].prev {
		i++
	}
	return i
}

func (l *List[T]) valid(h handle) bool {
	return h.idx < len(l.nodes) && l.nodes[h.idx].live && l.nodes[h.idx].gen == h.gen
}

func (l *List[T]) nodeAt(i int) int {
	if i < 0 || i >= l.size {
		return nilIdx
	}

	if i < l.size/2 {
		n := l.first
		for ; i > 0; i-- {
			n = l.nodes[n].next
		}
		return n
	}

	n := l.last
	for steps := l.size - 1 - i; steps > 0; steps-- {
		n = l.nodes[n].prev
	}
	return n
}

func (l *List[T]) unlink(idx int) T {
	n := &l.nodes[idx]
	if n.prev == nilIdx {
		l.first = n.next
	} else {
		l.nodes[n.prev].next = n.next
	}
	if n.next == nilIdx {
		l.last = n.prev
	} else {
		l.nodes[n.next].prev = n.prev
	}

	data := n.data
	var zero T
	n.data = zero
	n.next, n.prev = nilIdx, nilIdx
	n.live = false
	n.gen++
	l.size--
	l.unlinks++

	l.alloc.FreeSlot(idx)
	return data
}
