// Package connection builds the transparently-redirected TCP listener
// the proxy server accepts connections from: a normal net.Listener
// whose underlying socket additionally carries SO_REUSEADDR and
// IP_TRANSPARENT, so that iptables TPROXY rules may redirect arbitrary
// destination traffic to it while still letting us read the original
// destination back off of Accept'd connections via LocalAddr.
//
// Grounded on original_source/src/main.rs's setsockopt_bool calls
// (SO_REUSEADDR then IP_TRANSPARENT; here they are set from the
// ListenConfig.Control hook, which runs before bind) and on the
// teacher's server/connection package,
// which is the layer nps keeps all of its listener construction in.
package connection

import (
	"context"
	"net"
	"syscall"

	"github.com/astaxie/beego/logs"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ipTransparent is IP_TRANSPARENT's value on Linux; it has no constant
// in golang.org/x/sys/unix for every architecture, so it's named here
// the way original_source/src/utils.rs names it locally too.
const ipTransparent = 19

// Listen binds a transparent TCP listener on addr (expected to be an
// IPv6 address, typically within fc00::/7 so the kernel routes
// TPROXY'd traffic to it alongside ordinary connections to the proxy
// itself).
func Listen(addr string) (net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid listen address %s", addr)
	}
	if ip := net.ParseIP(host); ip == nil || ip.To4() != nil {
		return nil, errors.Errorf("listen address %s is not an IPv6 address", addr)
	}
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, ipTransparent, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	logs.Info("listening for transparent TCP redirects on %s", ln.Addr())
	return ln, nil
}
