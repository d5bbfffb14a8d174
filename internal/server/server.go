// Package server implements the USB/IP protocol server: a single-threaded,
// poll-driven loop that accepts clients, negotiates device import and
// turns commands into URBs on the virtual host controller.
package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-usbip/internal/alloc"
	"github.com/ehrlich-b/go-usbip/internal/constants"
	"github.com/ehrlich-b/go-usbip/internal/errs"
	"github.com/ehrlich-b/go-usbip/internal/interfaces"
	"github.com/ehrlich-b/go-usbip/internal/list"
	"github.com/ehrlich-b/go-usbip/internal/logging"
	"github.com/ehrlich-b/go-usbip/internal/sock"
	"github.com/ehrlich-b/go-usbip/internal/vhci"
	"github.com/ehrlich-b/go-usbip/internal/wire"
	"github.com/ehrlich-b/go-usbip/usb"
)

// Config configures a Server. Zero sizes take the package defaults.
type Config struct {
	BindAddr string
	Port     int
	Backlog  int

	MaxClients          int
	MaxTransferSize     int
	InboundBufferSize   int
	OutboundBufferSize  int
	CompletionQueueSize int

	// TransferArenaSize sizes the shared transfer buffer heap. Zero uses
	// pooled Go heap buffers instead.
	TransferArenaSize int

	Controller *vhci.Controller
	Logger     *logging.Logger
	Observer   interfaces.Observer
}

// maxFrame is the largest command frame a client may send or receive.
func (c *Config) maxFrame() int {
	return wire.CmdFrameSize + c.MaxTransferSize + constants.MaxISOPackets*wire.ISODescriptorSize
}

func (c *Config) setDefaults() {
	if c.Backlog == 0 {
		c.Backlog = constants.DefaultBacklog
	}
	if c.MaxClients == 0 {
		c.MaxClients = constants.DefaultMaxClients
	}
	if c.MaxTransferSize == 0 {
		c.MaxTransferSize = constants.DefaultMaxTransferSize
	}
	if c.InboundBufferSize == 0 {
		c.InboundBufferSize = c.maxFrame()
	}
	if c.OutboundBufferSize == 0 {
		c.OutboundBufferSize = constants.DefaultOutboundBufferSize
	}
	if c.CompletionQueueSize == 0 {
		c.CompletionQueueSize = constants.DefaultCompletionQueueSize
	}
}

func (c *Config) validate() error {
	switch {
	case c.Controller == nil:
		return fmt.Errorf("server: nil controller: %w", errs.ErrInvalidArgument)
	case c.MaxClients < 0, c.MaxTransferSize < 0, c.TransferArenaSize < 0:
		return fmt.Errorf("server: negative limit: %w", errs.ErrInvalidArgument)
	case c.InboundBufferSize < c.maxFrame():
		return fmt.Errorf("server: inbound buffer %d below max frame %d: %w",
			c.InboundBufferSize, c.maxFrame(), errs.ErrInvalidArgument)
	case c.OutboundBufferSize < c.maxFrame():
		return fmt.Errorf("server: outbound buffer %d below max frame %d: %w",
			c.OutboundBufferSize, c.maxFrame(), errs.ErrInvalidArgument)
	case c.CompletionQueueSize < queueFootprint(c.maxFrame())+queueFootprint(wire.CmdFrameSize):
		return fmt.Errorf("server: completion queue %d too small: %w", c.CompletionQueueSize, errs.ErrInvalidArgument)
	}
	return nil
}

// Server is the protocol server. HandleOnce, Register, Remove and Close
// must be called from one goroutine; Status may be called from any.
type Server struct {
	cfg     Config
	ln      *sock.Listener
	port    int
	vhci    *vhci.Controller
	clients *list.List[*client]
	buffers alloc.BufferAllocator
	log     *logging.Logger
	obs     interfaces.Observer

	// scratch frames, reused by the single poll goroutine
	frame []byte
	msg   []byte

	mu     sync.Mutex
	status Status
	dirty  bool
}

// New opens the listening socket and returns a ready server.
func New(cfg Config) (*Server, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slots, err := alloc.NewSlabSlots(cfg.MaxClients)
	if err != nil {
		return nil, err
	}
	clients, err := list.New[*client](slots)
	if err != nil {
		return nil, err
	}

	var buffers alloc.BufferAllocator
	if cfg.TransferArenaSize > 0 {
		heap, err := alloc.NewHeap(make([]byte, cfg.TransferArenaSize), 8)
		if err != nil {
			return nil, fmt.Errorf("server: transfer arena: %w", err)
		}
		buffers = heap
	} else {
		buffers = alloc.NewBufferPool()
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	ln, err := sock.Listen(cfg.BindAddr, cfg.Port, cfg.Backlog)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		ln:      ln,
		port:    ln.Port(),
		vhci:    cfg.Controller,
		clients: clients,
		buffers: buffers,
		log:     log,
		obs:     obs,
		frame:   make([]byte, cfg.InboundBufferSize),
		msg:     make([]byte, cfg.maxFrame()),
	}
	s.publish()

	log.Info("listening", "addr", cfg.BindAddr, "port", s.port, "max_clients", cfg.MaxClients)
	return s, nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int { return s.port }

// Listening reports whether the listener is still open.
func (s *Server) Listening() bool { return s.ln != nil }

// Register adds a device to the controller.
func (s *Server) Register(desc *usb.Device, h usb.TransferHandler) (*vhci.Device, error) {
	dev, err := s.vhci.Register(desc, h)
	if err != nil {
		return nil, err
	}
	s.dirty = true
	s.publish()
	return dev, nil
}

// Remove detaches and unregisters a device. A client that imported it
// keeps its connection; its further commands get -ENODEV.
func (s *Server) Remove(busID string) error {
	if _, err := s.vhci.Remove(busID); err != nil {
		return err
	}
	s.publish()
	return nil
}

// HandleOnce runs one pass of the poll loop: one accept, one controller
// pass, then for every client one receive, parsing of every complete
// frame, and one send. It never blocks. A non-nil error means the
// listener failed and was closed; existing clients are still served.
func (s *Server) HandleOnce() error {
	lerr := s.accept()

	if s.vhci.RunOnce() > 0 {
		s.dirty = true
	}

	s.clients.Iterate(func(c *client, _ int) bool {
		if err := s.serviceClient(c); err != nil {
			s.closeClient(c, err)
			return true
		}
		return false
	})

	if s.dirty {
		s.publish()
	}
	return lerr
}

func (s *Server) accept() error {
	if s.ln == nil {
		return nil
	}

	conn, err := s.ln.Accept()
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrWouldBlock):
		return nil
	case errors.Is(err, errs.ErrListener):
		s.log.WithError(err).Error("listener failed, no longer accepting")
		s.ln.Close()
		s.ln = nil
		s.dirty = true
		return err
	default:
		s.log.WithError(err).Warn("dropping new connection")
		return nil
	}

	c, err := s.newClient(conn)
	if err == nil {
		err = s.clients.Push(c)
	}
	if err != nil {
		s.log.WithError(err).Warn("rejecting client", "remote", conn.RemoteAddr(), "clients", s.clients.Len())
		conn.Close()
		s.obs.ObserveAccept(true)
		return nil
	}

	c.log.Info("client connected", "remote", conn.RemoteAddr())
	s.obs.ObserveAccept(false)
	s.dirty = true
	return nil
}

// serviceClient runs one receive, parse, send cycle for c.
func (s *Server) serviceClient(c *client) error {
	if c.err != nil {
		return c.err
	}

	if _, err := c.in.RecvFrom(c.conn); err != nil &&
		!errors.Is(err, errs.ErrWouldBlock) && !errors.Is(err, errs.ErrNoSpace) {
		return err
	}

	if err := s.parse(c); err != nil {
		return err
	}
	if c.err != nil {
		return c.err
	}

	return s.flush(c)
}

// flush moves whole completion frames into the outbound stream while they
// fit, then issues one send.
func (s *Server) flush(c *client) error {
	for {
		n, ok := c.done.PeekLen()
		if !ok || n > c.out.Free() {
			break
		}
		if _, err := c.done.Pop(s.msg[:n]); err != nil {
			return err
		}
		c.release(n)
		if err := c.out.Push(s.msg[:n]); err != nil {
			return err
		}
	}

	if c.out.Len() == 0 {
		return nil
	}
	if _, err := c.out.SendTo(c.conn); err != nil && !errors.Is(err, errs.ErrWouldBlock) {
		return err
	}
	return nil
}

// closeClient disconnects c and releases the device it imported.
func (s *Server) closeClient(c *client, reason error) {
	c.closed = true
	c.conn.Close()

	if c.dev != nil && c.dev.Owner() == c.id {
		for _, urb := range s.vhci.Release(c.dev) {
			s.dropTransfer(urb)
		}
		c.log.WithDevice(c.dev.BusID).Info("device released")
	}

	if errors.Is(reason, errs.ErrProtocol) {
		s.obs.ObserveProtocolError()
		c.log.WithError(reason).Warn("protocol violation, closing client")
	} else {
		c.log.WithError(reason).Info("client disconnected")
	}
	s.obs.ObserveDisconnect()
	s.dirty = true
}

// Close disconnects every client and closes the listener.
func (s *Server) Close() error {
	s.clients.Iterate(func(c *client, _ int) bool {
		s.closeClient(c, fmt.Errorf("server shutdown: %w", errs.ErrConnection))
		return true
	})

	var err error
	if s.ln != nil {
		err = s.ln.Close()
		s.ln = nil
	}
	s.publish()
	return err
}

type nopObserver struct{}

func (nopObserver) ObserveAccept(bool)                          {}
func (nopObserver) ObserveDisconnect()                          {}
func (nopObserver) ObserveDevlist()                             {}
func (nopObserver) ObserveImport(bool)                          {}
func (nopObserver) ObserveSubmit(uint64, uint64, uint64, int32) {}
func (nopObserver) ObserveUnlink(bool)                          {}
func (nopObserver) ObserveProtocolError()                       {}
