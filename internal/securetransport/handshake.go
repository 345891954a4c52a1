// Package securetransport is a reference implementation of netmux.Transport:
// a secio-like handshake built entirely on the standard library's crypto
// primitives (crypto/ecdh, crypto/ed25519, crypto/aes, crypto/cipher) plus
// golang.org/x/crypto/hkdf for key derivation. Each side generates an
// ephemeral X25519 keypair, signs it with its long-term Ed25519 identity
// key, exchanges the signed ephemeral keys, then derives a pair of
// AES-256-GCM keys (one per direction) from the shared secret.
package securetransport

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/hkdf"
)

// ErrSignatureInvalid is returned when the remote peer's ephemeral key is
// not validly signed by its claimed identity key.
var ErrSignatureInvalid = errors.New("securetransport: ephemeral key signature invalid")

// ErrHandshakeTruncated is returned when the peer closes the connection
// mid-handshake.
var ErrHandshakeTruncated = errors.New("securetransport: connection closed during handshake")

const (
	nonceSize = 12
	keySize   = 32
)

type helloMessage struct {
	identity  ed25519.PublicKey
	ephemeral []byte // X25519 public key, 32 bytes
	signature []byte // ed25519 signature over ephemeral
}

func (h helloMessage) marshal() []byte {
	buf := make([]byte, 0, 2+len(h.identity)+2+len(h.ephemeral)+2+len(h.signature))
	buf = appendLenPrefixed(buf, h.identity)
	buf = appendLenPrefixed(buf, h.ephemeral)
	buf = appendLenPrefixed(buf, h.signature)
	return buf
}

func appendLenPrefixed(dst, field []byte) []byte {
	var sz [2]byte
	binary.BigEndian.PutUint16(sz[:], uint16(len(field)))
	dst = append(dst, sz[:]...)
	return append(dst, field...)
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var sz [2]byte
	if _, err := io.ReadFull(r, sz[:]); err != nil {
		return nil, ErrHandshakeTruncated
	}
	n := binary.BigEndian.Uint16(sz[:])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, ErrHandshakeTruncated
		}
	}
	return buf, nil
}

func readHello(r io.Reader) (helloMessage, error) {
	var h helloMessage
	var err error
	if h.identity, err = readLenPrefixed(r); err != nil {
		return h, err
	}
	if h.ephemeral, err = readLenPrefixed(r); err != nil {
		return h, err
	}
	if h.signature, err = readLenPrefixed(r); err != nil {
		return h, err
	}
	return h, nil
}

// Transport implements netmux.Transport without importing netmux, so the
// handshake has no dependency on the core engine's types.
type Transport struct{}

// New returns a ready-to-use Transport.
func New() *Transport {
	return &Transport{}
}

// HandshakeOutbound runs the dialer side of the handshake.
func (t *Transport) HandshakeOutbound(ctx context.Context, conn net.Conn, local ed25519.PrivateKey) (ed25519.PublicKey, net.Conn, error) {
	return t.handshake(ctx, conn, local, true)
}

// HandshakeInbound runs the listener side of the handshake.
func (t *Transport) HandshakeInbound(ctx context.Context, conn net.Conn, local ed25519.PrivateKey) (ed25519.PublicKey, net.Conn, error) {
	return t.handshake(ctx, conn, local, false)
}

func (t *Transport) handshake(ctx context.Context, conn net.Conn, local ed25519.PrivateKey, outbound bool) (ed25519.PublicKey, net.Conn, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
		defer conn.SetDeadline(time.Time{})
	}
	curve := ecdh.X25519()
	ephPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("securetransport: generate ephemeral key: %w", err)
	}
	ephPub := ephPriv.PublicKey().Bytes()
	sig := ed25519.Sign(local, ephPub)

	localIdentity := local.Public().(ed25519.PublicKey)
	hello := helloMessage{identity: localIdentity, ephemeral: ephPub, signature: sig}

	// The dialer sends first; the listener waits for the incoming hello
	// before sending its own, avoiding symmetric concurrent writes on a
	// connection that may not buffer both sides independently.
	var remote helloMessage
	if outbound {
		if _, err := conn.Write(hello.marshal()); err != nil {
			return nil, nil, fmt.Errorf("securetransport: send hello: %w", err)
		}
		remote, err = readHello(conn)
		if err != nil {
			return nil, nil, err
		}
	} else {
		remote, err = readHello(conn)
		if err != nil {
			return nil, nil, err
		}
		if _, err := conn.Write(hello.marshal()); err != nil {
			return nil, nil, fmt.Errorf("securetransport: send hello: %w", err)
		}
	}

	if len(remote.identity) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("securetransport: malformed remote identity key")
	}
	if !ed25519.Verify(remote.identity, remote.ephemeral, remote.signature) {
		return nil, nil, ErrSignatureInvalid
	}

	remoteEphPub, err := curve.NewPublicKey(remote.ephemeral)
	if err != nil {
		return nil, nil, fmt.Errorf("securetransport: decode remote ephemeral key: %w", err)
	}
	shared, err := ephPriv.ECDH(remoteEphPub)
	if err != nil {
		return nil, nil, fmt.Errorf("securetransport: ECDH: %w", err)
	}

	sendKey, recvKey, err := deriveKeys(shared, localIdentity, remote.identity, outbound)
	if err != nil {
		return nil, nil, err
	}

	sendAEAD, err := newAEAD(sendKey)
	if err != nil {
		return nil, nil, err
	}
	recvAEAD, err := newAEAD(recvKey)
	if err != nil {
		return nil, nil, err
	}

	secure := &secureConn{Conn: conn, send: sendAEAD, recv: recvAEAD}
	return remote.identity, secure, nil
}

// deriveKeys expands the shared secret into two directional AES-256-GCM
// keys using HKDF-SHA256, salted by both identity keys in a
// canonical order so both peers derive the same salt regardless of who
// dialed.
func deriveKeys(shared, localID, remoteID ed25519.PublicKey, outbound bool) (sendKey, recvKey []byte, err error) {
	var salt []byte
	if outbound {
		salt = append(append([]byte{}, localID...), remoteID...)
	} else {
		salt = append(append([]byte{}, remoteID...), localID...)
	}

	h := hkdf.New(sha256.New, shared, salt, []byte("p2pmux secure channel v1"))
	keys := make([]byte, 2*keySize)
	if _, err := io.ReadFull(h, keys); err != nil {
		return nil, nil, fmt.Errorf("securetransport: derive keys: %w", err)
	}

	// The dialer's "client->server" key is keys[:32]; the listener sees
	// the same stream of bytes but with send/recv swapped.
	if outbound {
		return keys[:keySize], keys[keySize:], nil
	}
	return keys[keySize:], keys[:keySize], nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("securetransport: new AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("securetransport: new GCM: %w", err)
	}
	return aead, nil
}
