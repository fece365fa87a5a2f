package socks5

import (
	"bytes"
	"net"
	"testing"
	"time"
)

// TestConnectWritesExactHandshakeBytes checks testable property 6: a
// CONNECT to 1.2.3.4:80 writes exactly "05 01 00" then the CONNECT
// request "05 01 00 01 01 02 03 04 00 50".
func TestConnectWritesExactHandshakeBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	serverDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 13)
		n := 0
		for n < len(buf) {
			m, err := server.Read(buf[n:])
			n += m
			if err != nil {
				break
			}
		}
		serverDone <- buf[:n]
		server.Write([]byte{0x05, 0x00})
		server.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}()

	connDone := make(chan error, 1)
	go func() {
		err := connectOn(client, Target{IP: net.IPv4(1, 2, 3, 4), Port: 80})
		connDone <- err
	}()

	var got []byte
	select {
	case got = <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client bytes")
	}

	want := []byte{0x05, 0x01, 0x00, 0x05, 0x01, 0x00, 0x01, 1, 2, 3, 4, 0x00, 0x50}
	if !bytes.Equal(got, want) {
		t.Fatalf("client wrote %x, want %x", got, want)
	}

	select {
	case err := <-connDone:
		if err != nil {
			t.Fatalf("connectOn returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connectOn")
	}
}

func TestConnectRejectsAuthRequired(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		io := make([]byte, 13)
		n := 0
		for n < len(io) {
			m, err := server.Read(io[n:])
			n += m
			if err != nil {
				return
			}
		}
		server.Write([]byte{0x05, 0x02})
	}()

	err := connectOn(client, Target{IP: net.IPv4(1, 2, 3, 4), Port: 80})
	if err == nil {
		t.Fatal("connectOn succeeded, want AuthenticationNotSupported error")
	}
	if kind, ok := KindOf(err); !ok || kind != ErrAuthenticationNotSupported {
		t.Fatalf("KindOf(err) = %v, %v, want ErrAuthenticationNotSupported", kind, ok)
	}
}

func TestConnectRejectsServerError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		io := make([]byte, 13)
		n := 0
		for n < len(io) {
			m, err := server.Read(io[n:])
			n += m
			if err != nil {
				return
			}
		}
		server.Write([]byte{0x05, 0x00})
		server.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}()

	err := connectOn(client, Target{IP: net.IPv4(1, 2, 3, 4), Port: 80})
	if err == nil {
		t.Fatal("connectOn succeeded, want ServerError")
	}
	if kind, ok := KindOf(err); !ok || kind != ErrServer {
		t.Fatalf("KindOf(err) = %v, %v, want ErrServer", kind, ok)
	}
}

func TestConnectRejectsUnexpectedVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		io := make([]byte, 13)
		n := 0
		for n < len(io) {
			m, err := server.Read(io[n:])
			n += m
			if err != nil {
				return
			}
		}
		server.Write([]byte{0x04, 0x00})
	}()

	err := connectOn(client, Target{IP: net.IPv4(1, 2, 3, 4), Port: 80})
	if err == nil {
		t.Fatal("connectOn succeeded, want UnexpectedVersion")
	}
	if kind, ok := KindOf(err); !ok || kind != ErrUnexpectedVersion {
		t.Fatalf("KindOf(err) = %v, %v, want ErrUnexpectedVersion", kind, ok)
	}
}

func TestConnectWithDomainTarget(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	want := []byte{0x05, 0x01, 0x00, 0x05, 0x01, 0x00, 0x03, 11}
	want = append(want, "example.com"...)
	want = append(want, 0x00, 0x50)

	serverDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(want))
		n := 0
		for n < len(buf) {
			m, err := server.Read(buf[n:])
			n += m
			if err != nil {
				break
			}
		}
		serverDone <- buf[:n]
		server.Write([]byte{0x05, 0x00})
		server.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}()

	connDone := make(chan error, 1)
	go func() {
		connDone <- connectOn(client, Target{Domain: "example.com", Port: 80})
	}()

	var got []byte
	select {
	case got = <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client bytes")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("client wrote %x, want %x", got, want)
	}
	if err := <-connDone; err != nil {
		t.Fatalf("connectOn returned error: %v", err)
	}
}
