//go:build linux

package tcplisten

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/meshward/p2pmux/internal/netmux"
)

// TestListen_AcceptWriteRead confirms Listen produces a working TCP
// listener (SO_REUSEADDR set) and that Wrap's Addr() returns the Multiaddr
// it was opened for, independent of the OS-assigned port.
func TestListen_AcceptWriteRead(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, err := Listen(ctx, "tcp", "127.0.0.1:0", Config{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	requested, err := netmux.ParseMultiaddr("/ip4/127.0.0.1/tcp/0")
	if err != nil {
		t.Fatalf("ParseMultiaddr: %v", err)
	}
	wrapped := Wrap(ln, requested)
	if wrapped.Addr().String() != requested.String() {
		t.Fatalf("Addr() = %s, want the originally requested %s", wrapped.Addr(), requested)
	}

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := wrapped.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server net.Conn
	select {
	case res := <-acceptCh:
		if res.err != nil {
			t.Fatalf("Accept: %v", res.err)
		}
		server = res.conn
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Accept")
	}
	defer server.Close()

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buf := make([]byte, 64)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if got := string(buf[:n]); got != "ping" {
		t.Fatalf("server read %q, want %q", got, "ping")
	}
}
