package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// testListener binds a Listener on a random loopback port and closes it when
// the test ends.
func testListener(t *testing.T) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func testConn(t *testing.T, addr string, timeout time.Duration) *Conn {
	t.Helper()
	c, err := Dial(addr, timeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendReceiveRoundTrip(t *testing.T) {
	l := testListener(t)
	c := testConn(t, l.Addr(), 2*time.Second)

	if err := c.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, from, err := l.ReadFrom(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "ping" {
		t.Fatalf("data = %q, want %q", data, "ping")
	}
	if got := from.String(); got != c.LocalAddr() {
		t.Errorf("sender = %s, want %s", got, c.LocalAddr())
	}
	if got := c.RemoteAddr(); got != l.Addr() {
		t.Errorf("remote = %s, want %s", got, l.Addr())
	}

	if err := l.WriteTo([]byte("pong"), from); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := c.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(reply) != "pong" {
		t.Fatalf("reply = %q, want %q", reply, "pong")
	}
}

func TestReceiveTimeout(t *testing.T) {
	l := testListener(t)
	c := testConn(t, l.Addr(), 50*time.Millisecond)

	start := time.Now()
	_, err := c.Receive()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("receive blocked for %v", elapsed)
	}
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	l := testListener(t)
	c := testConn(t, l.Addr(), time.Second)

	big := bytes.Repeat([]byte("x"), MaxDatagramSize+1)
	if err := c.Send(big); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if err := c.Send(big[:MaxDatagramSize]); err != nil {
		t.Fatalf("send of exactly %d bytes: %v", MaxDatagramSize, err)
	}
}

func TestReadFromHonoursContext(t *testing.T) {
	l := testListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := l.ReadFrom(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrom did not return after cancel")
	}
}
