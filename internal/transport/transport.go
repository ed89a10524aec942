// Package transport moves whole messages over UDP. A message must fit in a
// single datagram; nothing is fragmented or retransmitted.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"
)

// MaxDatagramSize is the largest message either side will send or accept.
const MaxDatagramSize = 4096

// pollInterval bounds how long the server read loop blocks before it
// re-checks its context.
const pollInterval = 250 * time.Millisecond

var (
	// ErrTimeout is returned by Conn.Receive when no datagram arrives in time.
	ErrTimeout = errors.New("transport: receive timed out")
	// ErrTooLarge is returned when a payload does not fit one datagram.
	ErrTooLarge = fmt.Errorf("transport: message exceeds %d bytes", MaxDatagramSize)
)

// --- Client side ---

// Conn is a client's datagram channel to a single server address.
type Conn struct {
	conn    *net.UDPConn
	timeout time.Duration
	buf     []byte
}

// Dial resolves addr and returns a Conn whose Receive gives up after timeout.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Conn{
		conn:    conn,
		timeout: timeout,
		buf:     make([]byte, MaxDatagramSize),
	}, nil
}

// Send writes one datagram to the server.
func (c *Conn) Send(payload []byte) error {
	if len(payload) > MaxDatagramSize {
		return ErrTooLarge
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Receive blocks until a datagram arrives or the configured timeout elapses.
// The returned slice is a copy and stays valid after the next call.
func (c *Conn) Receive() ([]byte, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("receive: %w", err)
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

// RemoteAddr returns the server address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// LocalAddr returns the local "ip:port" the server replies to.
func (c *Conn) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// Close releases the socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// --- Server side ---

// Listener is the server's datagram socket. A single goroutine reads from it
// while any number of goroutines may write replies concurrently.
type Listener struct {
	conn *net.UDPConn
	buf  []byte
}

// Listen binds a UDP socket on addr. Use port 0 for a random port.
func Listen(addr string) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{
		conn: conn,
		buf:  make([]byte, MaxDatagramSize),
	}, nil
}

// ReadFrom blocks until a datagram arrives or ctx is done. It must only be
// called from one goroutine at a time. The returned slice is a copy.
func (l *Listener) ReadFrom(ctx context.Context) ([]byte, netip.AddrPort, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, netip.AddrPort{}, err
		}
		if err := l.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return nil, netip.AddrPort{}, fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := l.conn.ReadFromUDPAddrPort(l.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return nil, netip.AddrPort{}, fmt.Errorf("read: %w", err)
		}
		out := make([]byte, n)
		copy(out, l.buf[:n])
		// Dual-stack sockets report IPv4 senders as ::ffff:a.b.c.d.
		return out, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
	}
}

// WriteTo sends one datagram to addr. It is safe for concurrent use.
func (l *Listener) WriteTo(payload []byte, addr netip.AddrPort) error {
	if len(payload) > MaxDatagramSize {
		return ErrTooLarge
	}
	if _, err := l.conn.WriteToUDPAddrPort(payload, addr); err != nil {
		return fmt.Errorf("write to %s: %w", addr, err)
	}
	return nil
}

// Addr returns the bound address, e.g. "127.0.0.1:41234".
func (l *Listener) Addr() string {
	return l.conn.LocalAddr().String()
}

// Close shuts the socket. A blocked ReadFrom returns an error.
func (l *Listener) Close() error {
	return l.conn.Close()
}
