package handler

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stproxy/stproxy/lib/codec"
)

// fakeConn is a minimal net.Conn whose LocalAddr is fixed to a given
// IPv6 address, letting tests drive Handler.resolve without a real
// transparently-redirected socket.
type fakeConn struct {
	net.Conn
	local *net.TCPAddr
}

func (c *fakeConn) LocalAddr() net.Addr { return c.local }
func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5555}
}

func newFakeConn(addr [16]byte, port int) *fakeConn {
	return &fakeConn{local: &net.TCPAddr{IP: net.IP(addr[:]), Port: port}}
}

func TestResolveDefaultUpstream(t *testing.T) {
	addr, err := codec.Encode("example.com.s---t.")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h := New("fallback.example:1080")
	conn := newFakeConn(addr, 443)

	pair, upstreamAddr, err := h.resolve(conn)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pair.Target.Domain != "example.com" || pair.Target.Port != 443 {
		t.Errorf("Target = %+v", pair.Target)
	}
	if upstreamAddr != "fallback.example:1080" {
		t.Errorf("upstreamAddr = %q, want fallback.example:1080", upstreamAddr)
	}
}

func TestResolveExplicitUpstream(t *testing.T) {
	addr, err := codec.Encode("a.s---t.1.2.3.4.s---t.1080.s---t.")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h := New("fallback.example:1080")
	conn := newFakeConn(addr, 22)

	_, upstreamAddr, err := h.resolve(conn)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if upstreamAddr != "1.2.3.4:1080" {
		t.Errorf("upstreamAddr = %q, want 1.2.3.4:1080", upstreamAddr)
	}
}

func TestResolveRejectsNonIPv6LocalAddr(t *testing.T) {
	h := New("fallback.example:1080")
	conn := &fakeConn{local: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 80}}

	_, _, err := h.resolve(conn)
	if err == nil {
		t.Fatal("resolve succeeded on an IPv4 local address, want error")
	}
}

func TestHandleClosesConnOnBadAddress(t *testing.T) {
	h := New("fallback.example:1080")
	client, server := net.Pipe()
	defer client.Close()

	fc := &fakeConn{Conn: server, local: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 80}}

	done := make(chan struct{})
	go func() {
		h.Handle(fc)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return for an unresolvable connection")
	}
	if _, err := client.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("client Read after Handle = %v, want io.EOF (conn closed)", err)
	}
}
