package netmux_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/meshward/p2pmux/internal/netmux"
)

func TestLengthDelimitedCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	c := netmux.NewLengthDelimitedCodec(0)
	payload := []byte("xxxxxxxxxx-0")

	encoded, err := c.Encode(payload, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	frame, consumed, ok, err := c.Decode(encoded)
	if err != nil || !ok {
		t.Fatalf("Decode = (frame=%v consumed=%d ok=%v err=%v)", frame, consumed, ok, err)
	}
	if consumed != len(encoded) {
		t.Errorf("consumed = %d, want %d", consumed, len(encoded))
	}
	if !bytes.Equal(frame, payload) {
		t.Errorf("frame = %q, want %q", frame, payload)
	}
}

func TestLengthDelimitedCodec_IncompleteFrame(t *testing.T) {
	t.Parallel()

	c := netmux.NewLengthDelimitedCodec(0)
	encoded, err := c.Encode([]byte("hello"), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Feed only part of the length prefix, then only part of the payload: both
	// must report ok=false without consuming or erroring.
	_, _, ok, err := c.Decode(encoded[:2])
	if ok || err != nil {
		t.Fatalf("Decode(partial prefix) = (ok=%v err=%v), want (false, nil)", ok, err)
	}
	_, _, ok, err = c.Decode(encoded[:len(encoded)-1])
	if ok || err != nil {
		t.Fatalf("Decode(partial payload) = (ok=%v err=%v), want (false, nil)", ok, err)
	}
}

func TestLengthDelimitedCodec_MultipleFramesInOneBuffer(t *testing.T) {
	t.Parallel()

	c := netmux.NewLengthDelimitedCodec(0)
	var buf []byte
	var err error
	buf, err = c.Encode([]byte("one"), buf)
	if err != nil {
		t.Fatal(err)
	}
	buf, err = c.Encode([]byte("two"), buf)
	if err != nil {
		t.Fatal(err)
	}

	frame1, n1, ok, err := c.Decode(buf)
	if err != nil || !ok {
		t.Fatalf("first Decode failed: ok=%v err=%v", ok, err)
	}
	frame2, _, ok, err := c.Decode(buf[n1:])
	if err != nil || !ok {
		t.Fatalf("second Decode failed: ok=%v err=%v", ok, err)
	}
	if string(frame1) != "one" || string(frame2) != "two" {
		t.Fatalf("frames = %q, %q, want one, two", frame1, frame2)
	}
}

func TestRawCodec_DecodeConsumesWholeBuffer(t *testing.T) {
	t.Parallel()

	var c netmux.RawCodec
	frame, consumed, ok, err := c.Decode([]byte("whatever is buffered"))
	if err != nil || !ok {
		t.Fatalf("Decode = (ok=%v err=%v)", ok, err)
	}
	if consumed != len("whatever is buffered") {
		t.Errorf("consumed = %d, want %d", consumed, len("whatever is buffered"))
	}
	if string(frame) != "whatever is buffered" {
		t.Errorf("frame = %q", frame)
	}

	if _, _, ok, err := c.Decode(nil); ok || err != nil {
		t.Fatalf("Decode(empty) = (ok=%v err=%v), want (false, nil)", ok, err)
	}
}

func TestRawCodec_EncodeIsIdentity(t *testing.T) {
	t.Parallel()

	var c netmux.RawCodec
	got, err := c.Encode([]byte("payload"), []byte("prefix-"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "prefix-payload" {
		t.Errorf("Encode = %q, want %q", got, "prefix-payload")
	}
}

func TestLengthDelimitedCodec_FrameTooLarge(t *testing.T) {
	t.Parallel()

	c := netmux.NewLengthDelimitedCodec(4)
	if _, err := c.Encode([]byte("toolong"), nil); !errors.Is(err, netmux.ErrFrameTooLarge) {
		t.Fatalf("Encode() error = %v, want ErrFrameTooLarge", err)
	}

	// Hand-craft a decode buffer whose length prefix claims a payload
	// bigger than MaxLength.
	oversized := netmux.NewLengthDelimitedCodec(1024)
	frame, err := oversized.Encode([]byte("toolong"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := c.Decode(frame); !errors.Is(err, netmux.ErrFrameTooLarge) {
		t.Fatalf("Decode() error = %v, want ErrFrameTooLarge", err)
	}
}
