// Command stproxyd is the transparent-redirector daemon: it binds the
// proxy listener and DNS stub, drops root, and accepts connections
// until killed.
//
// Grounded on original_source/src/main.rs's run() for flag set and
// startup ordering (bind -> serve DNS -> drop privileges -> accept
// loop), and on the teacher's cmd/npc/npc.go for flag/logging style.
package main

import (
	"flag"
	"net"
	"os"
	"strconv"

	"github.com/astaxie/beego/logs"

	"github.com/stproxy/stproxy/dns"
	"github.com/stproxy/stproxy/lib/daemon"
	"github.com/stproxy/stproxy/server/connection"
	"github.com/stproxy/stproxy/server/handler"
)

var (
	bindAddr    = flag.String("b", "[::1]:44555", "IP and port of the connection handler")
	bindDNS     = flag.String("d", "[::]:53", "IP and port of the DNS server")
	userName    = flag.String("u", "nobody", "user to drop privileges to after binding")
	groupName   = flag.String("g", "nogroup", "group to drop privileges to after binding")
	defaultHost = flag.String("default-server-host", "socks.rg", "default upstream SOCKS5 server host")
	defaultPort = flag.Int("default-server-port", 1080, "default upstream SOCKS5 server port")
	logLevel    = flag.String("log_level", "7", "log level 0~7")
)

func main() {
	flag.Parse()
	logs.SetLogger(logs.AdapterConsole, `{"level":`+*logLevel+`,"color":true}`)
	logs.EnableFuncCallDepth(true)

	ln, err := connection.Listen(*bindAddr)
	if err != nil {
		logs.Error("%s", err)
		os.Exit(1)
	}

	dnsServer := dns.NewServer(*bindDNS)
	go func() {
		if err := dnsServer.Serve(); err != nil {
			logs.Error("DNS server stopped: %s", err)
			os.Exit(1)
		}
	}()

	if err := daemon.DropPrivileges(*userName, *groupName); err != nil {
		logs.Error("failed to drop privileges: %s", err)
		os.Exit(1)
	}

	h := handler.New(net.JoinHostPort(*defaultHost, strconv.Itoa(*defaultPort)))
	for {
		conn, err := ln.Accept()
		if err != nil {
			logs.Warn("%s", err)
			continue
		}
		go h.Handle(conn)
	}
}
