package netmux

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFrameTooLarge indicates an encoded or decoded frame exceeded the
// codec's configured maximum length.
var ErrFrameTooLarge = errors.New("netmux: frame exceeds max length")

// Codec turns a byte stream into discrete application frames and back
// (§6). Decode is called repeatedly against an accumulating read buffer;
// it reports ok=false when the buffer does not yet hold a complete frame.
// Encode appends one frame's wire representation to dst.
type Codec interface {
	Decode(buf []byte) (frame []byte, consumed int, ok bool, err error)
	Encode(payload []byte, dst []byte) ([]byte, error)
}

// LengthDelimitedCodec is the default Codec: a big-endian uint32 length
// prefix followed by that many payload bytes, matching the framing style
// the yamux-like multiplexer already uses for its own control frames.
type LengthDelimitedCodec struct {
	MaxLength uint32
}

// NewLengthDelimitedCodec returns a codec bounding frames to maxLength
// bytes of payload. A maxLength of 0 uses defaultMaxFrameLength.
func NewLengthDelimitedCodec(maxLength uint32) *LengthDelimitedCodec {
	if maxLength == 0 {
		maxLength = defaultMaxFrameLength
	}
	return &LengthDelimitedCodec{MaxLength: maxLength}
}

// defaultMaxFrameLength bounds a single decoded frame absent explicit
// configuration.
const defaultMaxFrameLength = 16 * 1024 * 1024

const lengthPrefixSize = 4

// Decode extracts one length-prefixed frame from buf, if complete.
func (c *LengthDelimitedCodec) Decode(buf []byte) (frame []byte, consumed int, ok bool, err error) {
	if len(buf) < lengthPrefixSize {
		return nil, 0, false, nil
	}
	n := binary.BigEndian.Uint32(buf[:lengthPrefixSize])
	if n > c.MaxLength {
		return nil, 0, false, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, c.MaxLength)
	}
	total := lengthPrefixSize + int(n)
	if len(buf) < total {
		return nil, 0, false, nil
	}
	frame = make([]byte, n)
	copy(frame, buf[lengthPrefixSize:total])
	return frame, total, true, nil
}

// Encode appends the length-prefixed wire form of payload to dst.
func (c *LengthDelimitedCodec) Encode(payload []byte, dst []byte) ([]byte, error) {
	if uint32(len(payload)) > c.MaxLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), c.MaxLength)
	}
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	dst = append(dst, prefix[:]...)
	dst = append(dst, payload...)
	return dst, nil
}

// RawCodec treats the entire accumulated read buffer as one frame on every
// call, for protocols that frame themselves (or don't frame at all) and
// would rather see raw transport reads than impose the length-delimited
// wire format on every peer.
type RawCodec struct{}

// Decode consumes everything currently buffered as a single frame. It
// never reports ok=false for a non-empty buffer, so callers feeding it
// through a substream's decode loop get one delivery per underlying read.
func (RawCodec) Decode(buf []byte) (frame []byte, consumed int, ok bool, err error) {
	if len(buf) == 0 {
		return nil, 0, false, nil
	}
	frame = make([]byte, len(buf))
	copy(frame, buf)
	return frame, len(buf), true, nil
}

// Encode appends payload to dst unchanged.
func (RawCodec) Encode(payload []byte, dst []byte) ([]byte, error) {
	return append(dst, payload...), nil
}
