// Package dns serves the DNS stub that names targets: any AAAA query
// gets answered by running the query name through the address codec
// and returning the encoded synthetic IPv6 address as the answer.
//
// Grounded on original_source/src/dns.rs's resolve_dns_request/serve_dns
// (REFUSED for anything but a single standard query, NXDOMAIN for a
// name the codec can't encode, and an EDNS OPT record attached to every
// response via set_edns). Every Encode failure, including a failed
// r---e. lookup, answers NXDOMAIN; this handler never answers SERVFAIL.
// Wire serialization uses github.com/miekg/dns, the library the
// retrieval pack's other DNS-adjacent repos (miekg-exdns,
// AdguardTeam-AdGuardHome, sieveLau-dnsproxy, cnfatal-proxy) all build
// on — the teacher itself has no DNS code to ground this on.
package dns

import (
	"net"

	"github.com/astaxie/beego/logs"
	miekgdns "github.com/miekg/dns"

	"github.com/stproxy/stproxy/lib/codec"
)

// answerTTL is the TTL set on returned AAAA records; the encoded
// address is only meaningful for the one connection it will shortly
// be used to dial, so it is deliberately short.
const answerTTL = 15

// Server answers AAAA queries over UDP by encoding the query name.
type Server struct {
	srv *miekgdns.Server
}

// NewServer builds a Server bound to addr ("host:port" or "[::]:53"),
// but does not start serving until Serve is called.
func NewServer(addr string) *Server {
	mux := miekgdns.NewServeMux()
	s := &Server{}
	mux.HandleFunc(".", s.handleQuery)
	s.srv = &miekgdns.Server{Addr: addr, Net: "udp", Handler: mux}
	return s
}

// Serve blocks, answering queries until the server errors out or is
// shut down. Call it from its own goroutine.
func (s *Server) Serve() error {
	logs.Info("serving DNS on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops the server, releasing its socket.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handleQuery(w miekgdns.ResponseWriter, req *miekgdns.Msg) {
	resp := new(miekgdns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = false
	resp.SetEdns0(4096, false)

	if req.Opcode != miekgdns.OpcodeQuery || len(req.Question) != 1 {
		resp.Rcode = miekgdns.RcodeRefused
		w.WriteMsg(resp)
		return
	}

	q := req.Question[0]
	addr, err := codec.Encode(q.Name)
	if err != nil {
		logs.Debug("failed to resolve %s: %s", q.Name, err)
		resp.Rcode = miekgdns.RcodeNameError
		w.WriteMsg(resp)
		return
	}

	resp.Rcode = miekgdns.RcodeSuccess
	if q.Qtype == miekgdns.TypeAAAA {
		resp.Answer = append(resp.Answer, &miekgdns.AAAA{
			Hdr: miekgdns.RR_Header{
				Name:   q.Name,
				Rrtype: miekgdns.TypeAAAA,
				Class:  miekgdns.ClassINET,
				Ttl:    answerTTL,
			},
			AAAA: net.IP(addr[:]),
		})
	}
	// A queries get a bare NOERROR with no answer records, matching
	// the original's handling (it only ever synthesizes AAAA rdata).

	if err := w.WriteMsg(resp); err != nil {
		logs.Warn("failed to send DNS response: %s", err)
	}
}
