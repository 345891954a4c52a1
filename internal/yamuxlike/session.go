// Package yamuxlike is a length-delimited, windowless stream multiplexer
// over any net.Conn: a reference implementation of the stream multiplexer
// trait netmux leaves as an external collaborator.
//
// Every frame carries a class byte — ctrl (stream open/close) or data —
// mirroring the CLSCTRL/CLSDATA split a production yamux-style
// multiplexer uses to keep control traffic from queuing behind a large
// data backlog; here that split is realized as two outbound queues
// drained ctrl-first by a single writer goroutine, the same high/normal
// priority discipline netmux's own send buffers use one layer up.
package yamuxlike

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

type frameClass byte

const (
	classSyn frameClass = iota
	classData
	classFin
)

// frameHeaderSize is class(1) + streamID(4) + length(4).
const frameHeaderSize = 9

// ErrSessionClosed is returned by OpenStream/AcceptStream/Write once the
// underlying connection has gone away.
var ErrSessionClosed = errors.New("yamuxlike: session closed")

// Config tunes a Session's flow limits.
type Config struct {
	MaxStreamWindow uint32 // not read by Session; each stream buffers up to 64 unread frames
	MaxStreams      uint32
	AcceptBacklog   int
}

// DefaultConfig returns sensible limits for a modest number of
// concurrently open substreams.
func DefaultConfig() Config {
	return Config{MaxStreamWindow: 256 * 1024, MaxStreams: 4096, AcceptBacklog: 256}
}

type outboundFrame struct {
	class frameClass
	id    uint32
	data  []byte
}

// Session is one multiplexed connection. Its OpenStream/AcceptStream/Close
// mirror netmux.StreamMuxer but return *Stream; muxerAdapter (factory.go)
// adapts it to that interface, so this file needs no netmux import.
type Session struct {
	conn   net.Conn
	cfg    Config
	client bool // odd stream ids if true, even otherwise (classic yamux parity split)

	nextID atomic.Uint32

	mu      sync.Mutex
	streams map[uint32]*Stream

	acceptCh chan *Stream
	outCtrl  chan outboundFrame
	outData  chan outboundFrame
	closeCh  chan struct{}
	closeErr error
	once     sync.Once
}

// NewSession wraps conn. client controls stream-id parity so both peers
// never collide when independently allocating ids.
func NewSession(conn net.Conn, cfg Config, client bool) *Session {
	if cfg.AcceptBacklog == 0 {
		cfg = DefaultConfig()
	}
	s := &Session{
		conn:     conn,
		cfg:      cfg,
		client:   client,
		streams:  make(map[uint32]*Stream),
		acceptCh: make(chan *Stream, cfg.AcceptBacklog),
		outCtrl:  make(chan outboundFrame, 64),
		outData:  make(chan outboundFrame, 1024),
		closeCh:  make(chan struct{}),
	}
	if client {
		s.nextID.Store(1)
	} else {
		s.nextID.Store(2)
	}
	go s.writeLoop()
	go s.readLoop()
	return s
}

func (s *Session) allocID() uint32 {
	return s.nextID.Add(2) - 2
}

// OpenStream opens a new logical stream, dialer side.
func (s *Session) OpenStream(ctx context.Context) (*Stream, error) {
	id := s.allocID()
	st := s.newStream(id)

	select {
	case s.outCtrl <- outboundFrame{class: classSyn, id: id}:
	case <-s.closeCh:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return st, nil
}

// AcceptStream blocks until the remote peer opens a new logical stream.
func (s *Session) AcceptStream(ctx context.Context) (*Stream, error) {
	select {
	case st := <-s.acceptCh:
		return st, nil
	case <-s.closeCh:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) newStream(id uint32) *Stream {
	st := &Stream{id: id, sess: s, readCh: make(chan []byte, 64)}
	s.mu.Lock()
	s.streams[id] = st
	s.mu.Unlock()
	return st
}

// Close tears down every open stream and the underlying connection.
// Lost frames are fatal by design (§ "Stream multiplexer contract"): a
// single framing error here closes the whole session rather than
// attempting partial recovery.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.closeCh)
		_ = s.conn.Close()
		s.mu.Lock()
		for _, st := range s.streams {
			st.closeLocal(io.ErrClosedPipe)
		}
		s.mu.Unlock()
	})
	return nil
}

func (s *Session) writeLoop() {
	for {
		// Ctrl frames are always checked first and, when present, drained
		// completely before a data frame is allowed through.
		select {
		case f := <-s.outCtrl:
			if err := s.writeFrame(f); err != nil {
				_ = s.Close()
				return
			}
			continue
		default:
		}

		select {
		case f := <-s.outCtrl:
			if err := s.writeFrame(f); err != nil {
				_ = s.Close()
				return
			}
		case f := <-s.outData:
			if err := s.writeFrame(f); err != nil {
				_ = s.Close()
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeFrame(f outboundFrame) error {
	var hdr [frameHeaderSize]byte
	hdr[0] = byte(f.class)
	binary.BigEndian.PutUint32(hdr[1:5], f.id)
	binary.BigEndian.PutUint32(hdr[5:9], uint32(len(f.data)))
	if _, err := s.conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.data) > 0 {
		if _, err := s.conn.Write(f.data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) readLoop() {
	hdr := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(s.conn, hdr); err != nil {
			_ = s.Close()
			return
		}
		class := frameClass(hdr[0])
		id := binary.BigEndian.Uint32(hdr[1:5])
		n := binary.BigEndian.Uint32(hdr[5:9])

		var payload []byte
		if n > 0 {
			payload = make([]byte, n)
			if _, err := io.ReadFull(s.conn, payload); err != nil {
				_ = s.Close()
				return
			}
		}

		switch class {
		case classSyn:
			s.handleSyn(id)
		case classData:
			s.handleData(id, payload)
		case classFin:
			s.handleFin(id)
		}
	}
}

func (s *Session) handleSyn(id uint32) {
	st := s.newStream(id)
	select {
	case s.acceptCh <- st:
	default:
		// Backlog full: refuse the stream immediately.
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
		select {
		case s.outCtrl <- outboundFrame{class: classFin, id: id}:
		case <-s.closeCh:
		}
	}
}

func (s *Session) handleData(id uint32, payload []byte) {
	s.mu.Lock()
	st := s.streams[id]
	s.mu.Unlock()
	if st == nil {
		return
	}
	select {
	case st.readCh <- payload:
	case <-s.closeCh:
	}
}

func (s *Session) handleFin(id uint32) {
	s.mu.Lock()
	st := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()
	if st != nil {
		st.closeLocal(io.EOF)
	}
}

func (s *Session) sendData(id uint32, p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case s.outData <- outboundFrame{class: classData, id: id, data: cp}:
		return nil
	case <-s.closeCh:
		return ErrSessionClosed
	}
}

func (s *Session) sendFin(id uint32) {
	select {
	case s.outCtrl <- outboundFrame{class: classFin, id: id}:
	case <-s.closeCh:
	}
}

// Stream is one bidirectional logical stream multiplexed inside a
// Session. It implements netmux.StreamHandle.
type Stream struct {
	id      uint32
	sess    *Session
	readCh  chan []byte
	leftover []byte
	closed  atomic.Bool
	closeOnce sync.Once
	closeErr  error
	errMu     sync.Mutex
}

// Read implements io.Reader.
func (st *Stream) Read(p []byte) (int, error) {
	if len(st.leftover) > 0 {
		n := copy(p, st.leftover)
		st.leftover = st.leftover[n:]
		return n, nil
	}
	chunk, ok := <-st.readCh
	if !ok {
		st.errMu.Lock()
		err := st.closeErr
		st.errMu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		st.leftover = chunk[n:]
	}
	return n, nil
}

// Write implements io.Writer.
func (st *Stream) Write(p []byte) (int, error) {
	if st.closed.Load() {
		return 0, fmt.Errorf("yamuxlike: write to closed stream %d", st.id)
	}
	if err := st.sess.sendData(st.id, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close performs a graceful shutdown: notifies the remote peer and
// releases local resources.
func (st *Stream) Close() error {
	if !st.closed.CompareAndSwap(false, true) {
		return nil
	}
	st.sess.sendFin(st.id)
	st.sess.mu.Lock()
	delete(st.sess.streams, st.id)
	st.sess.mu.Unlock()
	st.closeLocal(io.EOF)
	return nil
}

func (st *Stream) closeLocal(err error) {
	st.closeOnce.Do(func() {
		st.errMu.Lock()
		st.closeErr = err
		st.errMu.Unlock()
		close(st.readCh)
	})
}
