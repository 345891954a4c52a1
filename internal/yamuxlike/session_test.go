package yamuxlike

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// TestSession_OpenAcceptWriteRead drives the full stream multiplexer
// contract over a real net.Pipe: a client opens a stream, a server
// accepts it, and data flows both ways.
func TestSession_OpenAcceptWriteRead(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	client := NewSession(clientConn, DefaultConfig(), true)
	server := NewSession(serverConn, DefaultConfig(), false)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientStreamCh := make(chan *Stream, 1)
	clientErrCh := make(chan error, 1)
	go func() {
		st, err := client.OpenStream(ctx)
		if err != nil {
			clientErrCh <- err
			return
		}
		clientStreamCh <- st
	}()

	serverStream, err := server.AcceptStream(ctx)
	if err != nil {
		t.Fatalf("AcceptStream: %v", err)
	}

	var clientStream *Stream
	select {
	case clientStream = <-clientStreamCh:
	case err := <-clientErrCh:
		t.Fatalf("OpenStream: %v", err)
	case <-ctx.Done():
		t.Fatalf("timed out waiting for OpenStream")
	}

	if _, err := clientStream.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buf := make([]byte, 64)
	n, err := serverStream.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if got := string(buf[:n]); got != "ping" {
		t.Fatalf("server read %q, want %q", got, "ping")
	}

	if _, err := serverStream.Write([]byte("pong")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	n, err = clientStream.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if got := string(buf[:n]); got != "pong" {
		t.Fatalf("client read %q, want %q", got, "pong")
	}
}

// TestSession_StreamIDParity confirms the odd/even split a client and
// server session use so independently allocated stream ids never collide.
func TestSession_StreamIDParity(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	client := NewSession(clientConn, DefaultConfig(), true)
	server := NewSession(serverConn, DefaultConfig(), false)
	defer client.Close()
	defer server.Close()

	if client.allocID()%2 == 0 {
		t.Fatalf("client (outbound) allocated an even stream id")
	}
	if server.allocID()%2 != 0 {
		t.Fatalf("server (inbound) allocated an odd stream id")
	}
}

// TestStream_CloseSignalsPeerEOF confirms a local Close sends a fin frame
// that unblocks the peer's pending Read with io.EOF.
func TestStream_CloseSignalsPeerEOF(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	client := NewSession(clientConn, DefaultConfig(), true)
	server := NewSession(serverConn, DefaultConfig(), false)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientStream, err := client.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	serverStream, err := server.AcceptStream(ctx)
	if err != nil {
		t.Fatalf("AcceptStream: %v", err)
	}

	if err := clientStream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf := make([]byte, 16)
	readDone := make(chan error, 1)
	go func() {
		_, err := serverStream.Read(buf)
		readDone <- err
	}()

	select {
	case err := <-readDone:
		if err != io.EOF {
			t.Fatalf("Read after peer Close = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fin-triggered EOF")
	}
}
