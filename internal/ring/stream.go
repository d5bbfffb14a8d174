// Package ring provides fixed-storage FIFOs: a byte stream ring that
// drains to and fills from a non-blocking socket, and a ring of framed
// variable-length messages. Neither is safe for concurrent use.
package ring

import (
	"fmt"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

// Sender is a single non-blocking send.
type Sender interface {
	Send(p []byte) (int, error)
}

// Receiver is a single non-blocking receive.
type Receiver interface {
	Recv(p []byte) (int, error)
}

// Stream is a circular byte buffer without framing.
type Stream struct {
	buf  []byte
	head int
	tail int
	n    int
}

// NewStream uses buf as storage. The whole of buf is usable.
func NewStream(buf []byte) (*Stream, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("stream: empty buffer: %w", errs.ErrInvalidArgument)
	}
	return &Stream{buf: buf}, nil
}

// Len returns the number of buffered bytes.
func (s *Stream) Len() int { return s.n }

// Cap returns the storage size.
func (s *Stream) Cap() int { return len(s.buf) }

// Free returns the number of bytes Push can accept.
func (s *Stream) Free() int { return len(s.buf) - s.n }

// Push appends all of p or nothing.
func (s *Stream) Push(p []byte) error {
	if len(p) > s.Free() {
		return fmt.Errorf("stream: push %d bytes with %d free: %w", len(p), s.Free(), errs.ErrNoSpace)
	}
	k := copy(s.buf[s.tail:], p)
	copy(s.buf, p[k:])
	s.tail = (s.tail + len(p)) % len(s.buf)
	s.n += len(p)
	return nil
}

// Peek copies up to len(out) bytes from the head without consuming them.
func (s *Stream) Peek(out []byte) int {
	n := min(len(out), s.n)
	k := copy(out[:n], s.buf[s.head:])
	copy(out[k:n], s.buf)
	return n
}

// Discard drops up to n bytes from the head.
func (s *Stream) Discard(n int) int {
	n = min(n, s.n)
	s.head = (s.head + n) % len(s.buf)
	s.n -= n
	return n
}

// Pop moves up to len(out) bytes from the head into out.
func (s *Stream) Pop(out []byte) int {
	return s.Discard(s.Peek(out))
}

// SendTo issues one Send of the contiguous run at the head. When the data
// wraps, the remainder goes out on a later call. Errors from w, including
// would-block, are returned as is.
func (s *Stream) SendTo(w Sender) (int, error) {
	if s.n == 0 {
		return 0, nil
	}
	end := min(s.head+s.n, len(s.buf))
	n, err := w.Send(s.buf[s.head:end])
	if n > 0 {
		s.Discard(n)
	}
	return n, err
}

// RecvFrom issues one Recv into the contiguous free run at the tail.
// A full stream returns ErrNoSpace without calling r.
func (s *Stream) RecvFrom(r Receiver) (int, error) {
	free := s.Free()
	if free == 0 {
		return 0, fmt.Errorf("stream: recv: %w", errs.ErrNoSpace)
	}
	end := min(s.tail+free, len(s.buf))
	n, err := r.Recv(s.buf[s.tail:end])
	if n > 0 {
		s.tail = (s.tail + n) % len(s.buf)
		s.n += n
	}
	return n, err
}
