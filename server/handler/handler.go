// Package handler turns one accepted transparent connection into a
// decoded target/upstream pair, a SOCKS5 CONNECT through the upstream,
// and a bidirectional splice between the two — the whole per-connection
// lifecycle the accept loop in cmd/stproxyd hands connections off to.
//
// Grounded on original_source/src/connection.rs's handle_connection:
// same decode -> (default substitution) -> socks5_connect -> pipe_forever
// shape, and on the teacher's server/proxy/tcp.go Start/process style
// for the per-connection logging prefix and error handling.
package handler

import (
	"net"

	"github.com/astaxie/beego/logs"

	"github.com/stproxy/stproxy/lib/codec"
	"github.com/stproxy/stproxy/lib/socks5"
	"github.com/stproxy/stproxy/lib/splice"
)

// DefaultUpstream is the SOCKS5 proxy address ("host:port") substituted
// in whenever the decoded upstream is the DEFAULT sentinel.
type Handler struct {
	DefaultUpstream string
}

// New returns a Handler that falls back to defaultUpstream whenever a
// connection's address doesn't carry an explicit upstream.
func New(defaultUpstream string) *Handler {
	return &Handler{DefaultUpstream: defaultUpstream}
}

// Handle decodes conn's transparently-redirected local address,
// connects to the resolved upstream, and splices the two connections
// together. It always closes conn before returning.
func (h *Handler) Handle(conn net.Conn) {
	defer conn.Close()
	prefix := "[" + conn.RemoteAddr().String() + "] -> [" + conn.LocalAddr().String() + "]"

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	pair, upstreamAddr, err := h.resolve(conn)
	if err != nil {
		logs.Warn("%s: %s", prefix, err)
		return
	}

	target := socks5.Target{Domain: pair.Target.Domain, IP: pair.Target.IP, Port: pair.Target.Port}
	transport, err := socks5.Connect(upstreamAddr, target)
	if err != nil {
		logs.Warn("%s: connect to upstream %s: %s", prefix, upstreamAddr, err)
		return
	}
	defer transport.Close()

	stats, err := splice.Pipe(conn, transport)
	if err != nil {
		logs.Warn("%s: %s", prefix, err)
		return
	}
	logs.Info("%s: closed (in=%d out=%d)", prefix, stats.BToA, stats.AToB)
}

func (h *Handler) resolve(conn net.Conn) (codec.Pair, string, error) {
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok || local.IP.To16() == nil || local.IP.To4() != nil {
		return codec.Pair{}, "", codec.ErrMalformedAddressValue
	}

	var addr [16]byte
	copy(addr[:], local.IP.To16())

	pair, err := codec.Decode(addr, uint16(local.Port))
	if err != nil {
		return codec.Pair{}, "", err
	}

	upstreamAddr := h.DefaultUpstream
	if !pair.Upstream.IsDefault() {
		upstreamAddr = pair.Upstream.String()
	}
	return pair, upstreamAddr, nil
}
