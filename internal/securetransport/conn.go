package securetransport

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// maxPlaintextChunk keeps each sealed record well under common TCP/TLS
// record sizes so a single Write doesn't force the peer to buffer an
// unbounded ciphertext before it can decrypt anything.
const maxPlaintextChunk = 16 * 1024

// secureConn wraps a net.Conn with independent send/recv AEAD ciphers and
// a length-prefixed record framing, turning the raw connection into an
// authenticated, encrypted stream once the handshake completes.
type secureConn struct {
	net.Conn
	send cipher.AEAD
	recv cipher.AEAD

	sendNonce uint64
	recvNonce uint64

	readBuf []byte // leftover decrypted bytes from a prior record
}

// Write implements io.Writer, sealing p in one or more length-prefixed
// records.
func (c *secureConn) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlaintextChunk {
			chunk = chunk[:maxPlaintextChunk]
		}
		sealed := c.seal(chunk)

		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(sealed)))
		if _, err := c.Conn.Write(hdr[:]); err != nil {
			return total, err
		}
		if _, err := c.Conn.Write(sealed); err != nil {
			return total, err
		}

		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

func (c *secureConn) seal(plain []byte) []byte {
	nonce := nonceFromCounter(c.sendNonce)
	c.sendNonce++
	return c.send.Seal(nil, nonce, plain, nil)
}

// Read implements io.Reader, returning decrypted plaintext from the
// record stream. Partially-consumed records are buffered across calls.
func (c *secureConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		record, err := c.readRecord()
		if err != nil {
			return 0, err
		}
		c.readBuf = record
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *secureConn) readRecord() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.Conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	sealed := make([]byte, n)
	if _, err := io.ReadFull(c.Conn, sealed); err != nil {
		return nil, err
	}

	nonce := nonceFromCounter(c.recvNonce)
	c.recvNonce++
	plain, err := c.recv.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("securetransport: authentication failed on record %d: %w", c.recvNonce-1, err)
	}
	return plain, nil
}

func nonceFromCounter(n uint64) []byte {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], n)
	return nonce
}
