package server

import (
	"time"

	"github.com/rs/xid"

	"github.com/ehrlich-b/go-usbip/internal/logging"
	"github.com/ehrlich-b/go-usbip/internal/ring"
	"github.com/ehrlich-b/go-usbip/internal/sock"
	"github.com/ehrlich-b/go-usbip/internal/vhci"
	"github.com/ehrlich-b/go-usbip/internal/wire"
)

type clientState int

const (
	StateAwaitingRequest clientState = iota
	StateImported
)

func (s clientState) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateImported:
		return "imported"
	default:
		return "unknown"
	}
}

// client is one TCP connection. Inbound bytes accumulate in in until a
// whole frame is present; replies to operations go straight to out, URB
// completions are framed in done and moved to out by flush.
type client struct {
	id    string
	conn  *sock.Conn
	state clientState

	in   *ring.Stream
	out  *ring.Stream
	done *ring.Messages

	// reserved counts completion queue bytes promised to in-flight URBs
	// and to messages not yet moved to out.
	reserved int
	inflight int

	dev            *vhci.Device
	busNum, devNum uint32

	closed bool
	err    error

	log         *logging.Logger
	connectedAt time.Time
}

func (s *Server) newClient(conn *sock.Conn) (*client, error) {
	in, err := ring.NewStream(make([]byte, s.cfg.InboundBufferSize))
	if err != nil {
		return nil, err
	}
	out, err := ring.NewStream(make([]byte, s.cfg.OutboundBufferSize))
	if err != nil {
		return nil, err
	}
	done, err := ring.NewMessages(make([]byte, s.cfg.CompletionQueueSize))
	if err != nil {
		return nil, err
	}

	id := xid.New().String()
	return &client{
		id:          id,
		conn:        conn,
		state:       StateAwaitingRequest,
		in:          in,
		out:         out,
		done:        done,
		log:         s.log.WithSession(id),
		connectedAt: time.Now(),
	}, nil
}

func queueFootprint(n int) int { return n + 2*ring.MsgHeaderSize }

// reserve promises n bytes of completion queue space for a URB reply.
// It always leaves room for one header-only reply, so RET_UNLINK and
// rejected submits can still be queued. It reports false when the
// promise could not be kept.
func (c *client) reserve(n int) bool {
	if c.reserved+queueFootprint(n)+queueFootprint(wire.CmdFrameSize) > c.done.Cap() {
		return false
	}
	c.reserved += queueFootprint(n)
	return true
}

// fits reports whether an n byte message can be queued on top of the
// current reservations.
func (c *client) fits(n int) bool {
	return c.reserved+queueFootprint(n) <= c.done.Cap()
}

func (c *client) release(n int) {
	c.reserved -= queueFootprint(n)
}

// fail records a fatal error; the client is closed on the next check.
func (c *client) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}
