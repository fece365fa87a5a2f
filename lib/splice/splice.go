// Package splice copies bytes bidirectionally between two connections
// until both directions have drained, using a bounded goroutine pool
// rather than two bare "go" statements per pair.
//
// Grounded on the teacher's lib/goroutine.CopyConnsPool/connCopyPool:
// same ants.Pool-per-direction shape, generalized from the teacher's
// fixed mux/outside conn pair to an arbitrary pair of net.Conn values,
// and from lib/common.CopyBuffer for the buffered copy loop. The
// half-close-on-EOF shutdown (as opposed to a full close of both
// ends) matches original_source/src/socks5.rs's pipe_forever, which
// does tx.shutdown(Write) + rx.shutdown(Read) rather than closing
// either connection outright — so a peer that only half-closes its
// write side (an ordinary HTTP-style shutdown after sending a
// request) still gets to read the response on the surviving half.
package splice

import (
	"io"
	"net"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// copyBufferSize matches the teacher's lib/common.CopyBuff pool size.
const copyBufferSize = 32 * 1024

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, copyBufferSize) },
}

type halfCopy struct {
	dst net.Conn
	src net.Conn
	wg  *sync.WaitGroup
	n   *int64
}

func copyHalf(v interface{}) {
	hc := v.(halfCopy)
	defer hc.wg.Done()
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)
	n, err := io.CopyBuffer(hc.dst, hc.src, buf)
	*hc.n = n
	_ = err
	// src is drained: nothing more will ever be read from it, so shut
	// down its read half. dst has seen everything this direction will
	// ever send it, so shut down its write half. Either side keeps
	// carrying data in the opposite direction if it's still open.
	shutdownRead(hc.src)
	shutdownWrite(hc.dst)
}

// halfWriteCloser is implemented by *net.TCPConn (and similar
// connection types) that support shutting down just the write half.
type halfWriteCloser interface {
	CloseWrite() error
}

// halfReadCloser is implemented by *net.TCPConn (and similar
// connection types) that support shutting down just the read half.
type halfReadCloser interface {
	CloseRead() error
}

func shutdownWrite(conn net.Conn) {
	if hc, ok := conn.(halfWriteCloser); ok {
		hc.CloseWrite()
		return
	}
	// No half-close support: a full close is the only way to signal
	// the peer, matching the original's fallback behavior.
	conn.Close()
}

func shutdownRead(conn net.Conn) {
	if hc, ok := conn.(halfReadCloser); ok {
		hc.CloseRead()
		return
	}
	conn.Close()
}

// halfPool is the single shared pool every Pipe call schedules its two
// directions on, sized like the teacher's connCopyPool.
var halfPool, _ = ants.NewPoolWithFunc(200000, copyHalf, ants.WithNonblocking(false))

// Stats reports the byte counts of a completed Pipe call.
type Stats struct {
	AToB int64
	BToA int64
}

// Pipe copies a<->b until both directions have ended (EOF, error, or
// the peer shutting down its side), then returns once both halves
// have stopped. Each direction only half-closes on EOF, so a
// connection that supports CloseWrite/CloseRead can keep carrying
// data the other way after one side finishes sending.
func Pipe(a, b net.Conn) (Stats, error) {
	var wg sync.WaitGroup
	wg.Add(2)
	var aToB, bToA int64

	if err := halfPool.Invoke(halfCopy{dst: b, src: a, wg: &wg, n: &aToB}); err != nil {
		wg.Done()
		return Stats{}, errors.Wrap(err, "splice: schedule a->b copy")
	}
	if err := halfPool.Invoke(halfCopy{dst: a, src: b, wg: &wg, n: &bToA}); err != nil {
		wg.Done()
		a.Close()
		b.Close()
		wg.Wait()
		return Stats{AToB: aToB, BToA: bToA}, errors.Wrap(err, "splice: schedule b->a copy")
	}

	wg.Wait()
	return Stats{AToB: aToB, BToA: bToA}, nil
}
