package sock

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

func listen(t *testing.T) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1", 0, 4)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	require.NotZero(t, l.Port())
	return l
}

func acceptOne(t *testing.T, l *Listener) *Conn {
	t.Helper()
	var c *Conn
	require.Eventually(t, func() bool {
		var err error
		c, err = l.Accept()
		return err == nil
	}, 2*time.Second, time.Millisecond)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestListen_InvalidArguments(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		port    int
		backlog int
	}{
		{"bad address", "not-an-ip", 0, 1},
		{"ipv6 address", "::1", 0, 1},
		{"port out of range", "", 70000, 1},
		{"zero backlog", "", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Listen(tt.addr, tt.port, tt.backlog)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		})
	}
}

func TestAccept_WouldBlockWhenIdle(t *testing.T) {
	l := listen(t)
	_, err := l.Accept()
	assert.ErrorIs(t, err, errs.ErrWouldBlock)
}

func TestConn_SendRecv(t *testing.T) {
	l := listen(t)

	peer, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", l.Port()))
	require.NoError(t, err)
	defer peer.Close()

	c := acceptOne(t, l)
	assert.Contains(t, c.RemoteAddr(), "127.0.0.1:")

	buf := make([]byte, 16)
	_, err = c.Recv(buf)
	assert.ErrorIs(t, err, errs.ErrWouldBlock)

	_, err = peer.Write([]byte("hello"))
	require.NoError(t, err)

	var n int
	require.Eventually(t, func() bool {
		n, err = c.Recv(buf)
		return err == nil
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = c.Send([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got := make([]byte, 5)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = peer.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
}

func TestConn_PeerClose(t *testing.T) {
	l := listen(t)

	peer, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", l.Port()))
	require.NoError(t, err)

	c := acceptOne(t, l)
	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool {
		_, err = c.Recv(make([]byte, 8))
		return err != nil && err != errs.ErrWouldBlock
	}, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrConnection)
}

func TestClosed(t *testing.T) {
	l := listen(t)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err := l.Accept()
	assert.ErrorIs(t, err, errs.ErrListener)

	c := &Conn{fd: -1}
	_, err = c.Send([]byte{1})
	assert.ErrorIs(t, err, errs.ErrConnection)
	_, err = c.Recv(make([]byte, 1))
	assert.ErrorIs(t, err, errs.ErrConnection)
	assert.NoError(t, c.Close())
}
