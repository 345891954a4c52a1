package wsconn

import (
	"context"
	"net"
	"testing"
	"time"
)

// TestConn_DialAcceptWriteRead drives a real websocket connection end to
// end: NewListener upgrades an HTTP server, Dial connects to it, and data
// flows both ways through the net.Conn adapter.
func TestConn_DialAcceptWriteRead(t *testing.T) {
	t.Parallel()

	ln, err := NewListener("127.0.0.1:0", "/p2p")
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer ln.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	serverConnCh := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		serverConnCh <- acceptResult{conn: conn, err: err}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	url := ParseWSURL("127.0.0.1", uint16(tcpAddr.Port), false, "/p2p")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var server net.Conn
	select {
	case res := <-serverConnCh:
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

	if _, err := server.Write([]byte("pong")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	n, err = client.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if got := string(buf[:n]); got != "pong" {
		t.Fatalf("client read %q, want %q", got, "pong")
	}
}
