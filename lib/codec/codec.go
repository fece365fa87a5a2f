// Package codec implements the address codec: encoding a DNS-style
// name naming a target (and optional upstream SOCKS5 proxy) into the
// 16 bytes of a synthetic IPv6 address, and decoding that address plus
// an inbound TCP port back into the target/upstream pair.
//
// Grounded on original_source/src/dns.rs (resolve_name, the encode
// direction) and original_source/src/connection.rs (decode_addr, the
// decode direction); wire layout and error semantics follow those
// functions bit-for-bit.
package codec

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/stproxy/stproxy/lib/bitio"
	"github.com/stproxy/stproxy/lib/huffman"
)

// nameSeparator is the literal delimiter the DNS name grammar uses
// between a target/upstream/port part.
const nameSeparator = ".s---t."

// resolvePrefix marks a part that names a host to resolve to an IPv4
// address via the OS resolver, rather than a literal or domain.
const resolvePrefix = "r---e."

// ErrorKind distinguishes the codec error cases named in the spec.
type ErrorKind int

const (
	ErrEmptyDomain ErrorKind = iota
	ErrUnencodableCharacter
	ErrNotEnoughSpace
	ErrMalformedAddress
)

// Error is the error type returned by Encode and Decode; its Kind
// lets callers distinguish the cases without string matching.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: errors.Errorf(format, args...).Error()}
}

// KindOf reports the Kind of err if it is (or wraps) a codec *Error.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// ErrMalformedAddressValue is returned by the connection handler (not
// by Decode itself) when the captured local address isn't an IPv6
// socket address — Decode only ever sees the 16 address bytes, so the
// scope check that produces this error happens one layer up.
var ErrMalformedAddressValue = newError(ErrMalformedAddress, "local address is not an IPv6 socket address")

// Endpoint is a target or upstream as recovered by the codec: either a
// literal IPv4 address or a domain name. The codec never produces or
// accepts an IPv6 endpoint as a payload value.
type Endpoint struct {
	Domain string // non-empty for a domain endpoint
	IP     net.IP // 4-byte form for an IPv4 endpoint
	Port   uint16
}

// IsDomain reports whether e names a domain rather than a literal IP.
func (e Endpoint) IsDomain() bool { return e.Domain != "" }

// IsDefault reports whether e is the DEFAULT sentinel: the
// unspecified IPv4 address on port 0.
func (e Endpoint) IsDefault() bool {
	return !e.IsDomain() && e.Port == 0 && (len(e.IP) == 0 || e.IP.Equal(net.IPv4zero))
}

func (e Endpoint) String() string {
	if e.IsDomain() {
		return net.JoinHostPort(e.Domain, strconv.Itoa(int(e.Port)))
	}
	ip := e.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(e.Port)))
}

// DefaultUpstream is the DEFAULT sentinel value.
var DefaultUpstream = Endpoint{IP: net.IPv4zero, Port: 0}

// Pair is the decoded result: a target endpoint and an upstream
// endpoint (DefaultUpstream meaning "use the configured fallback").
type Pair struct {
	Target   Endpoint
	Upstream Endpoint
}

// Encode parses name under the DNS name grammar and packs it into a
// 16-byte synthetic IPv6 address.
func Encode(name string) ([16]byte, error) {
	var out [16]byte

	parts := strings.Split(name, nameSeparator)
	if len(parts) != 2 && len(parts) != 4 {
		return out, newError(ErrMalformedAddress, "invalid name: %s", name)
	}

	target, err := parsePart(parts[0], 0)
	if err != nil {
		return out, err
	}

	var upstream Endpoint
	if len(parts) == 2 {
		upstream = DefaultUpstream
	} else {
		portVal, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return out, newError(ErrMalformedAddress, "invalid port for proxy server: %s", parts[2])
		}
		upstream, err = parsePart(parts[1], uint16(portVal))
		if err != nil {
			return out, err
		}
	}

	return encodeBits(target, upstream)
}

func parsePart(part string, port uint16) (Endpoint, error) {
	if ip := net.ParseIP(part); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return Endpoint{IP: ip4, Port: port}, nil
		}
	}
	if strings.HasPrefix(part, resolvePrefix) {
		reqDomain := part[len(resolvePrefix):]
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), reqDomain)
		if err != nil {
			return Endpoint{}, errors.Wrapf(err, "unable to resolve %s to IPv4 address", reqDomain)
		}
		for _, a := range addrs {
			if ip4 := a.IP.To4(); ip4 != nil {
				return Endpoint{IP: ip4, Port: port}, nil
			}
		}
		return Endpoint{}, newError(ErrMalformedAddress, "unable to resolve %s to IPv4 address", reqDomain)
	}
	return Endpoint{Domain: part, Port: port}, nil
}

func encodeBits(target, upstream Endpoint) ([16]byte, error) {
	var out [16]byte
	w := bitio.NewWriter(out[:])

	// fc00::/7 unique-local prefix, as 7 bits: 1111110.
	if err := w.WriteBits(0x7e, 7); err != nil {
		return out, newError(ErrNotEnoughSpace, "no space for address prefix")
	}

	if target.IsDomain() {
		if err := writeDomain(w, target.Domain); err != nil {
			return out, err
		}
	} else {
		if err := w.WriteBit(false); err != nil {
			return out, newError(ErrNotEnoughSpace, "no space for target discriminator")
		}
		ip := target.IP.To4()
		if ip == nil {
			return out, newError(ErrMalformedAddress, "target is not a valid IPv4 address")
		}
		if err := w.WriteBytes(ip); err != nil {
			return out, newError(ErrNotEnoughSpace, "no space for target IPv4 bytes")
		}
	}

	if upstream.IsDomain() {
		if err := writeDomain(w, upstream.Domain); err != nil {
			return out, err
		}
		if err := w.WriteBits(uint64(upstream.Port), 16); err != nil {
			return out, newError(ErrNotEnoughSpace, "no space for upstream port")
		}
	} else {
		if err := w.WriteBit(false); err != nil {
			return out, newError(ErrNotEnoughSpace, "no space for upstream discriminator")
		}
	}

	w.ByteAlign()

	if !upstream.IsDomain() {
		ip := upstream.IP
		if len(ip) == 0 {
			ip = net.IPv4zero
		}
		if !ip.Equal(net.IPv4zero) {
			if w.BytePos() > 10 {
				return out, newError(ErrNotEnoughSpace, "no space for upstream IPv4 tail")
			}
			ip4 := ip.To4()
			if ip4 == nil {
				return out, newError(ErrMalformedAddress, "upstream is not a valid IPv4 address")
			}
			copy(out[10:14], ip4)
			binary.BigEndian.PutUint16(out[14:16], upstream.Port)
		}
	}

	return out, nil
}

// writeDomain encodes domain (lowercased) as Huffman symbols, matching
// huffman.CompositeCodes in their fixed order at each position and
// falling back to a single character when none match, terminated by
// the End symbol. Every '\' is silently skipped and the byte after it
// is encoded like any other; no other escape semantics are implemented.
func writeDomain(w *bitio.Writer, domain string) error {
	if err := w.WriteBit(true); err != nil {
		return newError(ErrNotEnoughSpace, "no space for domain discriminator")
	}
	remaining := strings.ToLower(domain)
	for len(remaining) > 0 {
		matched := false
		for _, tok := range huffman.CompositeCodes {
			if strings.HasPrefix(remaining, tok) {
				if err := huffman.WriteComposite(w, tok); err != nil {
					return newError(ErrNotEnoughSpace, "no space for composite token %q", tok)
				}
				remaining = remaining[len(tok):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		ch := remaining[0]
		if ch != '\\' {
			if !huffman.HasChar(ch) {
				return newError(ErrUnencodableCharacter, "unencodable character: %q", ch)
			}
			if err := huffman.WriteChar(w, ch); err != nil {
				return newError(ErrNotEnoughSpace, "no space for character %q", ch)
			}
		}
		remaining = remaining[1:]
	}
	// Unlike the original, which ignores the result of writing End
	// (original_source/src/dns.rs: ".is_ok()"), a failure here is
	// surfaced as NotEnoughSpace — the conservative choice spec.md
	// §9 calls out as required for the round-trip property.
	if err := huffman.WriteEnd(w); err != nil {
		return newError(ErrNotEnoughSpace, "no space for domain terminator")
	}
	return nil
}

// Decode recovers the target and upstream endpoints from the 16
// octets of a captured local IPv6 address and the inbound TCP port.
func Decode(addr [16]byte, port uint16) (Pair, error) {
	r := bitio.NewReader(addr[:])
	if err := r.Skip(7); err != nil {
		return Pair{}, newError(ErrMalformedAddress, "address too short")
	}

	targetIsDomain, err := r.ReadBit()
	if err != nil {
		return Pair{}, newError(ErrMalformedAddress, "address too short")
	}

	var target Endpoint
	if targetIsDomain {
		domain, err := readDomain(r)
		if err != nil {
			return Pair{}, err
		}
		target = Endpoint{Domain: domain, Port: port}
	} else {
		ipBits, err := r.ReadBits(32)
		if err != nil {
			return Pair{}, newError(ErrMalformedAddress, "truncated target IPv4 address")
		}
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, uint32(ipBits))
		target = Endpoint{IP: ip, Port: port}
	}

	// The on-wire bit is 1 for a domain upstream and 0 for the IPv4/
	// default tail, so ipFlag is its inverse. A bit that can't be read
	// at all sets ipFlag, the same as a 0 bit (IPv4/default tail
	// follows), as original_source's
	// `ip_flag = !reader.read_bit().unwrap_or(false)` does.
	upstreamBit, err := r.ReadBit()
	ipFlag := true
	if err == nil {
		ipFlag = !upstreamBit
	}

	var upstream Endpoint
	if !ipFlag {
		domain, err := readDomain(r)
		if err != nil {
			return Pair{}, err
		}
		portBits, err := r.ReadBits(16)
		if err != nil {
			return Pair{}, newError(ErrMalformedAddress, "truncated upstream port")
		}
		upstream = Endpoint{Domain: domain, Port: uint16(portBits)}
	} else {
		r.ByteAlign()
		if r.Remaining() < 56 {
			upstream = DefaultUpstream
		} else {
			ip := make(net.IP, 4)
			copy(ip, addr[10:14])
			upstream = Endpoint{IP: ip, Port: binary.BigEndian.Uint16(addr[14:16])}
		}
	}

	return Pair{Target: target, Upstream: upstream}, nil
}

func readDomain(r *bitio.Reader) (string, error) {
	var sb strings.Builder
loop:
	for {
		sym, err := huffman.ReadSymbol(r)
		if err != nil {
			// Truncation tolerance: running out of bits mid-domain
			// counts as an implicit End.
			break
		}
		switch sym.Kind {
		case huffman.KindEnd:
			break loop
		case huffman.KindChar:
			sb.WriteByte(sym.Char)
		case huffman.KindComposite:
			sb.WriteString(sym.Composite)
		}
	}
	if sb.Len() == 0 {
		return "", newError(ErrEmptyDomain, "domain decoded to zero symbols")
	}
	return sb.String(), nil
}
