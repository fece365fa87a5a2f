// Package socks5 implements a minimal SOCKS5 client: a no-auth CONNECT
// handshake against an upstream proxy, returning a ready-to-use
// net.Conn. Grounded on original_source/src/socks5.rs's socks5_connect
// function and wire layout, and on the teacher's server-side mirror
// of the same protocol in server/proxy/socks5.go.
package socks5

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

// address type octets, per RFC 1928.
const (
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

const socksVersion = 0x05

// ErrorKind distinguishes the SOCKS5 failure cases named in the spec.
type ErrorKind int

const (
	ErrFailedToResolve ErrorKind = iota
	ErrUnexpectedVersion
	ErrUnexpectedAddressType
	ErrAuthenticationNotSupported
	ErrServer
)

// Error is the error type returned by Connect.
type Error struct {
	Kind ErrorKind
	Code byte // valid when Kind == ErrServer
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// KindOf reports the Kind of err if it is (or wraps) a socks5 *Error.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// Target is the destination passed to a CONNECT request: either a
// literal IPv4/IPv6 address or a domain name, each with a port.
type Target struct {
	IP     net.IP
	Domain string
	Port   uint16
}

func (t Target) isDomain() bool { return t.Domain != "" }

// Connect dials server and performs a no-auth SOCKS5 CONNECT to
// target, returning the connection ready to carry payload bytes.
// Nagle's algorithm is disabled before the reply handshake is read,
// to keep small-message latency down, matching the original's
// set_nodelay(true) placement.
func Connect(server string, target Target) (net.Conn, error) {
	conn, err := net.Dial("tcp", server)
	if err != nil {
		return nil, errors.Wrap(wrapResolveErr(err), "socks5: dial upstream")
	}
	if err := connectOn(conn, target); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func wrapResolveErr(err error) error {
	if _, ok := err.(*net.AddrError); ok {
		return newError(ErrFailedToResolve, "socks5: can't resolve address of server")
	}
	return err
}

func connectOn(conn net.Conn, target Target) error {
	// Greeting: VER NMETHODS METHODS — one method offered, no auth.
	if _, err := conn.Write([]byte{socksVersion, 1, 0x00}); err != nil {
		return errors.Wrap(err, "socks5: write greeting")
	}

	if err := writeConnectRequest(conn, target); err != nil {
		return errors.Wrap(err, "socks5: write connect request")
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return errors.Wrap(err, "socks5: read method selection")
	}
	if header[0] != socksVersion {
		return newError(ErrUnexpectedVersion, "socks5: unexpected version byte")
	}
	if header[1] != 0x00 {
		return newError(ErrAuthenticationNotSupported, "socks5: authentication is not supported")
	}

	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return errors.Wrap(err, "socks5: read connect reply header")
	}
	if reply[0] != socksVersion {
		return newError(ErrUnexpectedVersion, "socks5: unexpected version byte")
	}
	if reply[1] != 0x00 {
		e := newError(ErrServer, "socks5: server returned error")
		e.Code = reply[1]
		return e
	}
	// reply[2] is RSV, reply[3] is the bound-address ATYP.
	if err := drainBindAddress(conn, reply[3]); err != nil {
		return err
	}
	return nil
}

func writeConnectRequest(conn net.Conn, target Target) error {
	buf := []byte{socksVersion, 0x01, 0x00} // VER CMD=CONNECT RSV
	switch {
	case target.isDomain():
		if len(target.Domain) > 255 {
			return errors.New("socks5: domain name too long")
		}
		buf = append(buf, atypDomain, byte(len(target.Domain)))
		buf = append(buf, target.Domain...)
	case target.IP.To4() != nil:
		buf = append(buf, atypIPv4)
		buf = append(buf, target.IP.To4()...)
	case len(target.IP) == net.IPv6len:
		buf = append(buf, atypIPv6)
		buf = append(buf, target.IP...)
	default:
		return errors.New("socks5: target has neither a domain nor an IP address")
	}
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, target.Port)
	buf = append(buf, portBytes...)
	_, err := conn.Write(buf)
	return err
}

func drainBindAddress(conn net.Conn, atyp byte) error {
	switch atyp {
	case atypIPv4:
		_, err := io.CopyN(io.Discard, conn, net.IPv4len+2)
		return err
	case atypIPv6:
		_, err := io.CopyN(io.Discard, conn, net.IPv6len+2)
		return err
	case atypDomain:
		lenByte := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenByte); err != nil {
			return err
		}
		_, err := io.CopyN(io.Discard, conn, int64(lenByte[0])+2)
		return err
	default:
		return newError(ErrUnexpectedAddressType, "socks5: unexpected address type")
	}
}
