package netmux

import (
	"context"
	"crypto/ed25519"
	"io"
	"net"
)

// PublicKey identifies a remote peer once its transport handshake
// completes. The core never inspects the key material itself.
type PublicKey = ed25519.PublicKey

// PrivateKey is the local identity handed to Transport.Handshake.
type PrivateKey = ed25519.PrivateKey

// Transport consumes a raw net.Conn and a local keypair and performs a
// handshake yielding a remote public key and an authenticated, encrypted
// stream ready to be handed to a StreamMuxer (§6 "Transport contract
// (secio-like)"). The core does not mandate the handshake's wire layout.
type Transport interface {
	// HandshakeOutbound runs the dialer side of the handshake.
	HandshakeOutbound(ctx context.Context, conn net.Conn, local PrivateKey) (PublicKey, net.Conn, error)
	// HandshakeInbound runs the listener side of the handshake.
	HandshakeInbound(ctx context.Context, conn net.Conn, local PrivateKey) (PublicKey, net.Conn, error)
}

// StreamHandle is one bidirectional, independently closable bytestream
// opened or accepted from a StreamMuxer.
type StreamHandle interface {
	io.Reader
	io.Writer
	// Close performs a graceful shutdown, flushing any buffered writes.
	Close() error
}

// StreamMuxer opens a bidirectional bytestream multiplexer under a single
// authenticated connection (§6 "Stream multiplexer contract (yamux-like)").
// Lost frames are fatal: implementations close the whole muxer on any
// framing error rather than attempt partial recovery.
type StreamMuxer interface {
	// OpenStream opens a new logical stream, dialer side.
	OpenStream(ctx context.Context) (StreamHandle, error)
	// AcceptStream blocks until the remote peer opens a new logical stream.
	AcceptStream(ctx context.Context) (StreamHandle, error)
	// Close tears down every open stream and the underlying connection.
	Close() error
}

// MuxerFactory wraps an authenticated net.Conn in a StreamMuxer. Kept
// separate from StreamMuxer itself so a Session can be constructed before
// the muxer handshake completes.
type MuxerFactory interface {
	NewMuxer(conn net.Conn, ty ConnType) (StreamMuxer, error)
}

// Resolver resolves a dns4/dns6 multiaddr to one routable ip4/ip6
// multiaddr (§6 "DNS resolver"). Resolution may block; Service.dial
// calls it on the goroutine that called Dial.
type Resolver interface {
	Resolve(ctx context.Context, addr Multiaddr) (Multiaddr, error)
}

// Dialer abstracts establishing the raw net.Conn for a resolved multiaddr,
// so the core never depends directly on net.Dial for a specific transport
// suffix (e.g. "/ws").
type Dialer interface {
	Dial(ctx context.Context, addr Multiaddr) (net.Conn, error)
}

// Listener abstracts accepting raw net.Conns for one listen multiaddr.
type Listener interface {
	Accept() (net.Conn, error)
	Addr() Multiaddr
	Close() error
}
