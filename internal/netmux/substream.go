package netmux

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"
)

// substreamReadChunk is the read buffer granularity for the substream's
// reader goroutine.
const substreamReadChunk = 32 * 1024

// teardownFlushTimeout bounds how long a detached teardown flush waits to
// hand off a final event before giving up (§9 "detached teardown tasks").
const teardownFlushTimeout = 2 * time.Second

// substreamConfig holds the per-substream tuning knobs from §8.
type substreamConfig struct {
	SendEventSize int
	RecvEventSize int
	KeepBuffer    bool
}

// substream owns one multiplexed, length-delimited, codec-wrapped framed
// stream for a single protocol within a session (§4.3). Its state is
// touched only by its own goroutines (run, readLoop, writeLoop,
// deliverLoop); cross-actor communication is exclusively through cmdCh,
// upward, writeBuf, and handlerCh.
type substream struct {
	id        StreamID
	proto     ProtocolID
	protoName string
	version   string

	sess   *SessionContext
	stream StreamHandle
	codec  Codec
	cfg    substreamConfig
	logger *slog.Logger

	// cmdCh carries downward commands from the owning Session. Teardown
	// (either a user-initiated Close or whole-session shutdown) arrives
	// as a CloseProtocolEvent on it; the Session does not close it.
	cmdCh chan ProtocolEvent

	// upward carries ProtocolEvent values back to the Session. Shares the
	// Session's single fan-in channel; trySend is driven from this
	// substream's own goroutines after every push (§4.1).
	upward *priorityBuffer[ProtocolEvent]

	// writeBuf queues encoded-ready payloads for the dedicated writer
	// goroutine, high lane first (§4.3 flush discipline).
	writeBuf *priorityBuffer[[]byte]

	// handlerCh is the bounded delivery queue to user handlers. Its
	// capacity is RecvEventSize: a full handlerCh blocks the reader
	// goroutine's send, which is exactly the upward back-pressure rule in
	// §5 expressed as ordinary blocking-channel semantics instead of a
	// manually tracked Pending state.
	handlerCh chan UserEvent

	serviceHandler ServiceProtocol
	sessionHandler SessionProtocol
	event          bool
	beforeReceive  func([]byte) ([]byte, error)

	done chan struct{} // closed once, at teardown start
	dead bool          // touched only inside run's goroutine and readLoop/writeLoop via atomics below

	pctx *ProtocolContext
}

// newSubstream constructs a substream ready to run; the caller starts
// run() on its own goroutine.
func newSubstream(
	id StreamID,
	info ProtocolInfo,
	sess *SessionContext,
	stream StreamHandle,
	cfg substreamConfig,
	upwardCh chan ProtocolEvent,
	sessionDone <-chan struct{},
	logger *slog.Logger,
	control ServiceControl,
) *substream {
	done := make(chan struct{})
	s := &substream{
		id:             id,
		proto:          info.ID,
		protoName:      info.Name,
		sess:           sess,
		stream:         stream,
		codec:          info.Codec,
		cfg:            cfg,
		logger:         logger.With(slog.Uint64("stream_id", uint64(id)), slog.Uint64("proto_id", uint64(info.ID))),
		cmdCh:          make(chan ProtocolEvent, 1),
		upward:         newPriorityBuffer(upwardCh, sessionDone),
		writeBuf:       newPriorityBuffer[[]byte](nil, done),
		handlerCh:      make(chan UserEvent, maxInt(cfg.RecvEventSize, 1)),
		serviceHandler: info.ServiceHandler,
		event:          info.Event,
		beforeReceive:  info.BeforeReceive,
		done:           done,
	}
	if info.SessionHandler != nil {
		s.sessionHandler = info.SessionHandler()
	}
	s.pctx = &ProtocolContext{Session: sess, Proto: info.ID, Stream: id, control: control}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// run drives the substream for its whole lifetime: dispatches Connected,
// then starts the reader, writer, and delivery goroutines, processes
// downward commands, and tears down on channel closure or a fatal I/O
// error.
func (s *substream) run() {
	s.dispatchConnected()

	go s.writeLoop()
	go s.readLoop()
	go s.deliverLoop()

	for !s.dead {
		ev, ok := <-s.cmdCh
		if !ok {
			break // Session closed the channel: session is tearing down.
		}
		s.handleDownward(ev)
	}

	s.teardown()
}

func (s *substream) dispatchConnected() {
	if s.serviceHandler != nil {
		s.serviceHandler.Connected(s.pctx)
	}
	if s.sessionHandler != nil {
		s.sessionHandler.Connected(s.pctx)
	}
}

// handleDownward implements step 4 of the §4.3 poll cycle for the subset
// of ProtocolEvent variants a Substream accepts from its Session.
func (s *substream) handleDownward(ev ProtocolEvent) {
	switch e := ev.(type) {
	case MessageProtocolEvent:
		if s.writeBuf.len() >= s.cfg.SendEventSize {
			// Downward back-pressure: the caller's send_message_to already
			// observed WouldBlock via ServiceControl's own non-blocking
			// channel send (§5); dropping here only guards against a
			// stream whose queue grew past the configured soft cap via the
			// high-priority lane, which never goes through that gate.
			s.logger.Warn("write buffer over soft cap, dropping frame")
			return
		}
		encoded, err := s.codec.Encode(e.Data, nil)
		if err != nil {
			s.surfaceError(err)
			return
		}
		s.sess.incrPendingDataSize(int64(len(encoded)))
		if e.Priority == High {
			s.writeBuf.pushHigh(encoded)
		} else {
			s.writeBuf.pushNormal(encoded)
		}
		s.writeBuf.wake()
	case CloseProtocolEvent:
		s.writeBuf.clearNormal()
		s.dead = true
	case TimeoutCheckProtocolEvent:
		// See DESIGN.md "Open question 3": this core never idle-disconnects
		// on its own; TimeoutCheck only triggers a write-buffer wake so a
		// back-pressured flush gets retried promptly.
		s.writeBuf.wake()
	default:
		// OpenProtocolEvent/SelectErrorProtocolEvent/ErrorProtocolEvent
		// flow the opposite direction (substream to session) and are
		// never sent downward; ignored per §4.3 step 4 "other variants
		// ignored".
	}
}

// writeLoop is the dedicated blocking-pop writer goroutine for the
// substream's outbound hop to the transport (§4.3). Unlike the
// non-blocking trySend used for the Service→Session and Session→Substream
// command hops, this goroutine genuinely wants to block until the next
// frame is ready, since it owns the only path to stream.Write.
func (s *substream) writeLoop() {
	for {
		frame, ok := s.writeBuf.popBlocking(s.done)
		if !ok {
			return
		}
		if _, err := s.stream.Write(frame); err != nil {
			s.sess.decrPendingDataSize(int64(len(frame)))
			s.markDeadFromIOError(err)
			return
		}
		s.sess.decrPendingDataSize(int64(len(frame)))
	}
}

// readLoop accumulates bytes from the transport, decodes frames with the
// configured Codec, and delivers them to user handlers. The blocking send
// on handlerCh is the upward back-pressure mechanism described in §5.
func (s *substream) readLoop() {
	buf := make([]byte, 0, substreamReadChunk)
	chunk := make([]byte, substreamReadChunk)

	for {
		n, err := s.stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = s.decodeAvailable(buf)
			if buf == nil {
				return // fatal decode or transform error, already surfaced
			}
		}
		if err != nil {
			s.handleReadError(err)
			return
		}
	}
}

// decodeAvailable extracts every complete frame currently available in
// buf, delivering each to user handlers. Returns the remaining
// undecoded tail, or nil if a fatal error already tore the substream
// down.
func (s *substream) decodeAvailable(buf []byte) []byte {
	for {
		frame, consumed, ok, err := s.codec.Decode(buf)
		if err != nil {
			s.surfaceError(err)
			return nil
		}
		if !ok {
			return buf
		}
		buf = buf[consumed:]

		if s.beforeReceive != nil {
			frame, err = s.beforeReceive(frame)
			if err != nil {
				s.surfaceError(err)
				return nil
			}
		}

		select {
		case s.handlerCh <- ReceivedUserEvent{Session: s.sess, Data: frame}:
		case <-s.done:
			return nil
		}

		if s.event {
			s.upward.pushNormal(MessageProtocolEvent{Stream: s.id, Proto: s.proto, Data: frame, Priority: Normal})
			s.upward.trySend()
		}
	}
}

// handleReadError applies the §4.3 error policy: the listed kinds mean
// the peer simply went away and are silent; anything else surfaces an
// Error event upward before marking the substream dead.
func (s *substream) handleReadError(err error) {
	if isQuietCloseError(err) {
		s.dead = true
		return
	}
	s.surfaceError(err)
}

func isQuietCloseError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (s *substream) markDeadFromIOError(err error) {
	s.surfaceError(err)
}

// surfaceError sends an ErrorProtocolEvent upward and marks the
// substream dead, per §4.3's error_close policy.
func (s *substream) surfaceError(err error) {
	s.upward.pushHigh(ErrorProtocolEvent{Stream: s.id, Proto: s.proto, Err: err})
	s.upward.trySend()
	s.dead = true
}

// deliverLoop drains handlerCh to the registered user handlers, in
// order, until the channel is closed during teardown.
func (s *substream) deliverLoop() {
	for ev := range s.handlerCh {
		switch e := ev.(type) {
		case ReceivedUserEvent:
			if s.serviceHandler != nil {
				s.serviceHandler.Received(s.pctx, e.Data)
			}
			if s.sessionHandler != nil {
				s.sessionHandler.Received(s.pctx, e.Data)
			}
		case DisconnectedUserEvent:
			if s.serviceHandler != nil {
				s.serviceHandler.Disconnected(s.pctx)
			}
			if s.sessionHandler != nil {
				s.sessionHandler.Disconnected(s.pctx)
			}
		}
	}
}

// teardown implements close_proto_stream (§4.3): stop accepting new
// writes, shut the transport stream down, flush the final user-facing
// events on a detached goroutine so teardown itself never blocks the
// owning Session, and notify the Session unless it is already closed.
func (s *substream) teardown() {
	close(s.done)
	_ = s.stream.Close()

	go func() {
		select {
		case s.handlerCh <- DisconnectedUserEvent{Session: s.sess}:
		case <-time.After(teardownFlushTimeout):
		}
		close(s.handlerCh)
	}()

	if !s.sess.Closed() {
		if !s.cfg.KeepBuffer {
			s.upward.clear()
		}
		s.upward.pushHigh(CloseProtocolEvent{Stream: s.id, Proto: s.proto})
		if s.upward.trySend() == sendPending {
			ch, pending := s.upward.take()
			go flushDetached(ch, pending)
		}
	}
}

// flushDetached forwards every item in pending to ch, best-effort,
// without blocking the caller's own teardown path (§4.1 take()).
func flushDetached(ch chan ProtocolEvent, pending []ProtocolEvent) {
	for _, ev := range pending {
		select {
		case ch <- ev:
		case <-time.After(teardownFlushTimeout):
			return
		}
	}
}
