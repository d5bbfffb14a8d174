package ring

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

// MsgHeaderSize is the in-place framing overhead of each message:
// a little-endian {len uint64, next uint64} header.
const MsgHeaderSize = 16

const noNext = ^uint64(0)

// Messages is a FIFO of variable-length messages in fixed storage. Each
// message is stored behind its header; headers link oldest to newest.
// A header never wraps. The payload may.
type Messages struct {
	buf   []byte
	head  int
	first int
	last  int
	count int
}

// NewMessages uses buf as storage.
func NewMessages(buf []byte) (*Messages, error) {
	if len(buf) <= MsgHeaderSize {
		return nil, fmt.Errorf("messages: %d byte buffer: %w", len(buf), errs.ErrInvalidArgument)
	}
	return &Messages{buf: buf, first: -1, last: -1}, nil
}

// Len returns the number of queued messages.
func (m *Messages) Len() int { return m.count }

// Cap returns the storage size.
func (m *Messages) Cap() int { return len(m.buf) }

// Push queues msg. It fails with ErrTooLarge if msg can never fit and with
// ErrFull if it would reach the oldest unread message. State is unchanged
// on failure.
func (m *Messages) Push(msg []byte) (int, error) {
	size := len(m.buf)
	if len(msg)+MsgHeaderSize > size {
		return 0, fmt.Errorf("messages: push %d bytes: %w", len(msg), errs.ErrTooLarge)
	}

	pos := m.head
	footprint := MsgHeaderSize + len(msg)
	if size-pos < MsgHeaderSize {
		// tail segment cannot hold a header; restart at the beginning
		footprint += size - pos
		pos = 0
	}

	if m.first != -1 {
		free := (m.first - m.head + size) % size
		if footprint >= free {
			return 0, fmt.Errorf("messages: push %d bytes with %d free: %w", len(msg), free, errs.ErrFull)
		}
	}

	binary.LittleEndian.PutUint64(m.buf[pos:], uint64(len(msg)))
	binary.LittleEndian.PutUint64(m.buf[pos+8:], noNext)

	data := pos + MsgHeaderSize
	k := copy(m.buf[data:], msg)
	copy(m.buf, msg[k:])

	if m.first == -1 {
		m.first = pos
	} else {
		binary.LittleEndian.PutUint64(m.buf[m.last+8:], uint64(pos))
	}
	m.last = pos
	m.head = (pos + MsgHeaderSize + len(msg)) % size
	m.count++
	return len(msg), nil
}

// PeekLen returns the payload length of the oldest message.
func (m *Messages) PeekLen() (int, bool) {
	if m.first == -1 {
		return 0, false
	}
	return int(binary.LittleEndian.Uint64(m.buf[m.first:])), true
}

// Pop moves the oldest message into out. It fails with ErrEmpty when no
// message is queued and with io.ErrShortBuffer when out is too small.
func (m *Messages) Pop(out []byte) (int, error) {
	if m.first == -1 {
		return 0, fmt.Errorf("messages: pop: %w", errs.ErrEmpty)
	}

	n := int(binary.LittleEndian.Uint64(m.buf[m.first:]))
	if n > len(out) {
		return 0, fmt.Errorf("messages: pop %d bytes into %d: %w", n, len(out), io.ErrShortBuffer)
	}

	k := copy(out[:n], m.buf[m.first+MsgHeaderSize:])
	copy(out[k:n], m.buf)

	next := binary.LittleEndian.Uint64(m.buf[m.first+8:])
	if next == noNext {
		m.first, m.last = -1, -1
	} else {
		m.first = int(next)
	}
	m.count--
	return n, nil
}
