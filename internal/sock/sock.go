// Package sock provides non-blocking TCP listeners and connections on raw
// file descriptors. Nothing here ever parks a goroutine: every call either
// makes progress or returns errs.ErrWouldBlock.
package sock

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-usbip/internal/constants"
	"github.com/ehrlich-b/go-usbip/internal/errs"
)

// Listener is a non-blocking IPv4 TCP listening socket.
type Listener struct {
	fd   int
	port int
}

// Listen opens a listening socket on bindAddr:port. An empty bindAddr
// listens on all interfaces; port 0 picks an ephemeral port.
func Listen(bindAddr string, port, backlog int) (*Listener, error) {
	var addr [4]byte
	if bindAddr != "" {
		ip, err := netip.ParseAddr(bindAddr)
		if err != nil || !ip.Is4() {
			return nil, fmt.Errorf("bind address %q: %w", bindAddr, errs.ErrInvalidArgument)
		}
		addr = ip.As4()
	}
	if port < 0 || port > 0xffff || backlog < 1 {
		return nil, fmt.Errorf("port %d backlog %d: %w", port, backlog, errs.ErrInvalidArgument)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s:%d: %w", bindAddr, port, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	l := &Listener{fd: fd, port: port}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		l.port = in4.Port
	}
	return l, nil
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.port
}

// Accept takes one pending connection. It returns errs.ErrWouldBlock when
// none is pending and an error wrapping errs.ErrListener when the listener
// itself is broken. A connection that cannot be configured is closed and
// reported as errs.ErrConnection; the listener stays usable.
func (l *Listener) Accept() (*Conn, error) {
	if l.fd < 0 {
		return nil, fmt.Errorf("accept: %w", errs.ErrListener)
	}

	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if transient(err) || errors.Is(err, unix.ECONNABORTED) {
			return nil, errs.ErrWouldBlock
		}
		return nil, fmt.Errorf("accept: %w: %w", errs.ErrListener, err)
	}

	if err := configure(nfd); err != nil {
		unix.Close(nfd)
		return nil, fmt.Errorf("configure: %w: %w", errs.ErrConnection, err)
	}

	return &Conn{fd: nfd, remote: formatAddr(sa)}, nil
}

// Close closes the listening socket. It is safe to call more than once.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

func configure(fd int) error {
	opts := []struct {
		name  string
		level int
		opt   int
		value int
	}{
		{"TCP_NODELAY", unix.IPPROTO_TCP, unix.TCP_NODELAY, 1},
		{"SO_KEEPALIVE", unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1},
		{"TCP_KEEPINTVL", unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, constants.KeepaliveInterval},
		{"TCP_KEEPCNT", unix.IPPROTO_TCP, unix.TCP_KEEPCNT, constants.KeepaliveCount},
	}
	for _, o := range opts {
		if err := unix.SetsockoptInt(fd, o.level, o.opt, o.value); err != nil {
			return fmt.Errorf("setsockopt %s: %w", o.name, err)
		}
	}
	return nil
}

// Conn is an accepted non-blocking connection.
type Conn struct {
	fd     int
	remote string
}

// RemoteAddr returns the peer address as host:port.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Send writes as much of p as the socket accepts without blocking.
func (c *Conn) Send(p []byte) (int, error) {
	if c.fd < 0 {
		return 0, fmt.Errorf("send: %w", errs.ErrConnection)
	}
	n, err := unix.SendmsgN(c.fd, p, nil, nil, unix.MSG_NOSIGNAL)
	if err != nil {
		if transient(err) {
			return 0, errs.ErrWouldBlock
		}
		return 0, fmt.Errorf("send: %w: %w", errs.ErrConnection, err)
	}
	return n, nil
}

// Recv reads whatever is available into p. An orderly shutdown by the
// peer is reported as errs.ErrConnection.
func (c *Conn) Recv(p []byte) (int, error) {
	if c.fd < 0 {
		return 0, fmt.Errorf("recv: %w", errs.ErrConnection)
	}
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if transient(err) {
			return 0, errs.ErrWouldBlock
		}
		return 0, fmt.Errorf("recv: %w: %w", errs.ErrConnection, err)
	}
	if n == 0 && len(p) > 0 {
		return 0, fmt.Errorf("recv: peer closed: %w", errs.ErrConnection)
	}
	return n, nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

func transient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func formatAddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	default:
		return "unknown"
	}
}
