//go:build linux
// +build linux

// File: transport/transport_linux_test.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/momentics/wsloop/api"
)

// retry polls op until it stops reporting would-block.
func retry(t *testing.T, what string, op func() error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := op()
		if err == nil {
			return
		}
		if !errors.Is(err, api.ErrWouldBlock) {
			t.Fatalf("%s: %v", what, err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: still blocking after 2s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTransport_LoopbackRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", Options{NoDelay: true})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if !strings.HasPrefix(ln.Addr(), "127.0.0.1:") || strings.HasSuffix(ln.Addr(), ":0") {
		t.Fatalf("ephemeral port not resolved: %q", ln.Addr())
	}

	client, err := Dial(ln.Addr(), Options{NoDelay: true})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server api.Stream
	retry(t, "accept", func() error {
		s, err := ln.Accept()
		if err != nil {
			return err
		}
		server = s
		return nil
	})
	defer server.Close()

	// the first write resolves the in-progress connect
	retry(t, "client write", func() error {
		_, err := client.TryWrite([]byte("hello"))
		return err
	})

	buf := make([]byte, 16)
	var n int
	retry(t, "server read", func() error {
		var err error
		n, err = server.TryRead(buf)
		return err
	})
	if string(buf[:n]) != "hello" {
		t.Fatalf("server read %q", buf[:n])
	}

	if server.RemoteAddr() == "" || client.RemoteAddr() == "" {
		t.Fatalf("remote addresses missing: server=%q client=%q", server.RemoteAddr(), client.RemoteAddr())
	}

	// empty socket reports would-block, not EOF
	if _, err := server.TryRead(buf); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("idle read: %v", err)
	}

	// peer close surfaces as EOF once the data is drained
	if err := client.Close(); err != nil {
		t.Fatalf("client close: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := server.TryRead(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, api.ErrWouldBlock) {
			t.Fatalf("read after peer close: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw EOF after peer close")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTransport_AcceptOnEmptyBacklogWouldBlock(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", Options{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if _, err := ln.Accept(); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("empty backlog must report would-block, got %v", err)
	}
	if ln.Fd() == 0 {
		t.Fatalf("listener fd not exposed")
	}
}

func TestTransport_DialRefusedSurfacesOnFirstOp(t *testing.T) {
	// bind a port, then close it so the connect is refused
	ln, err := Listen("127.0.0.1:0", Options{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr()
	ln.Close()

	client, err := Dial(addr, Options{})
	if err != nil {
		// refused during the connect call itself is also acceptable
		return
	}
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := client.TryWrite([]byte("x"))
		if err != nil && !errors.Is(err, api.ErrWouldBlock) {
			return // connect failure surfaced
		}
		if time.Now().After(deadline) {
			t.Fatalf("refused connect never surfaced an error")
		}
		time.Sleep(time.Millisecond)
	}
}
