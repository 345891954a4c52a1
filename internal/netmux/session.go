package netmux

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// sessionConfig holds the per-session tuning knobs applied to every
// substream it creates (§8).
type sessionConfig struct {
	SendEventSize int
	RecvEventSize int
	KeepBuffer    bool
	Timeout       time.Duration
}

// SessionCommand is the tagged union Service sends down to one Session
// (§4.5 "Session events received from Service").
type SessionCommand interface {
	isSessionCommand()
}

// OpenCommand requests substreams be opened for every protocol matched by
// Target.
type OpenCommand struct{ Target TargetProtocol }

// CloseCommand requests the substream for Proto be closed.
type CloseCommand struct{ Proto ProtocolID }

// MessageCommand routes a data frame to the substream for Proto.
type MessageCommand struct {
	Proto    ProtocolID
	Data     []byte
	Priority Priority
	result   chan error // buffered 1; Session reports ProtoNotOpen here
}

// DisconnectCommand initiates whole-session teardown.
type DisconnectCommand struct{}

// SetNotifyCommand registers a periodic notify callback against Proto.
type SetNotifyCommand struct {
	Proto    ProtocolID
	Interval time.Duration
	Token    uint64
}

// RemoveNotifyCommand cancels a previously registered notify callback.
type RemoveNotifyCommand struct {
	Proto ProtocolID
	Token uint64
}

func (OpenCommand) isSessionCommand()         {}
func (CloseCommand) isSessionCommand()        {}
func (MessageCommand) isSessionCommand()      {}
func (DisconnectCommand) isSessionCommand()   {}
func (SetNotifyCommand) isSessionCommand()    {}
func (RemoveNotifyCommand) isSessionCommand() {}

// SessionUpwardEvent is the tagged union a Session forwards to the
// Service's dispatch loop (§4.5 step 5).
type SessionUpwardEvent interface {
	isSessionUpwardEvent()
}

type sessionOpenedUp struct{ ctx *SessionContext }
type sessionClosedUp struct{ id SessionID }
type protocolOpenedUp struct {
	id    SessionID
	proto ProtocolID
}
type protocolClosedUp struct {
	id    SessionID
	proto ProtocolID
}
type protocolMessageUp struct {
	id    SessionID
	proto ProtocolID
	data  []byte
}
type protocolErrorUp struct {
	id    SessionID
	proto ProtocolID
	err   error
}
type notifyUp struct {
	id    SessionID
	proto ProtocolID
	token uint64
}

func (sessionOpenedUp) isSessionUpwardEvent()   {}
func (sessionClosedUp) isSessionUpwardEvent()   {}
func (protocolOpenedUp) isSessionUpwardEvent()  {}
func (protocolClosedUp) isSessionUpwardEvent()  {}
func (protocolMessageUp) isSessionUpwardEvent() {}
func (protocolErrorUp) isSessionUpwardEvent()   {}
func (notifyUp) isSessionUpwardEvent()          {}

// substreamState is the per-substream negotiation state machine (§4.4).
type substreamState uint8

const (
	stateNegotiating substreamState = iota
	stateOpened
	stateClosing
	stateClosed
)

// session owns one multiplexed, authenticated connection to a remote
// peer. It is the only writer of its substreams' cmdCh channels and the
// only reader of its own cmdCh, matching the single-goroutine-per-actor
// rule (§5).
type session struct {
	ctx    *SessionContext
	muxer  StreamMuxer
	protos map[ProtocolID]ProtocolInfo
	cfg    sessionConfig
	logger *slog.Logger
	control ServiceControl

	cmdCh chan SessionCommand // Service writes here; session reads

	upwardCh chan ProtocolEvent  // substreams write here; session reads
	svcCh    chan SessionUpwardEvent
	svcBuf   *priorityBuffer[SessionUpwardEvent]

	mu         sync.Mutex
	substreams map[StreamID]*substream
	states     map[StreamID]substreamState
	byProto    map[ProtocolID]StreamID

	nextStreamID atomic.Uint64

	notifyMu     sync.Mutex
	notifyStop   map[notifyKey]chan struct{}

	done chan struct{}
}

type notifyKey struct {
	proto ProtocolID
	token uint64
}

func newSession(
	id SessionID,
	addr Multiaddr,
	ty ConnType,
	remotePub PublicKey,
	muxer StreamMuxer,
	protos map[ProtocolID]ProtocolInfo,
	cfg sessionConfig,
	svcCh chan SessionUpwardEvent,
	svcDone <-chan struct{},
	control ServiceControl,
	logger *slog.Logger,
) *session {
	ctx := &SessionContext{ID: id, Addr: addr, Ty: ty, RemotePubKey: remotePub}
	s := &session{
		ctx:        ctx,
		muxer:      muxer,
		protos:     protos,
		cfg:        cfg,
		logger:     logger.With(slog.Uint64("session_id", uint64(id)), slog.String("addr", addr.String())),
		control:    control,
		cmdCh:      make(chan SessionCommand, 64),
		upwardCh:   make(chan ProtocolEvent, 256),
		svcCh:      svcCh,
		substreams: make(map[StreamID]*substream),
		states:     make(map[StreamID]substreamState),
		byProto:    make(map[ProtocolID]StreamID),
		notifyStop: make(map[notifyKey]chan struct{}),
		done:       make(chan struct{}),
	}
	s.svcBuf = newPriorityBuffer(svcCh, svcDone)
	return s
}

func (s *session) nextStreamIDValue() StreamID {
	return StreamID(s.nextStreamID.Add(1))
}

// run is the Session actor's main loop. It fans in commands from the
// Service and events from its own substreams until both its command
// channel closes and teardown completes.
func (s *session) run(acceptCtx context.Context) {
	s.pushUpward(sessionOpenedUp{ctx: s.ctx})

	go s.acceptLoop(acceptCtx)

	for {
		select {
		case cmd, ok := <-s.cmdCh:
			if !ok {
				s.shutdown()
				return
			}
			s.handleCommand(acceptCtx, cmd)
		case ev := <-s.upwardCh:
			s.handleSubstreamEvent(ev)
		}

		if s.ctx.Closed() {
			s.drainRemaining()
			return
		}
	}
}

// drainRemaining keeps forwarding substream events after the command
// channel has closed, until every substream has reported Closed.
func (s *session) drainRemaining() {
	for {
		s.mu.Lock()
		n := len(s.substreams)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case ev := <-s.upwardCh:
			s.handleSubstreamEvent(ev)
		case <-time.After(teardownFlushTimeout):
			return
		}
	}
}

func (s *session) handleCommand(ctx context.Context, cmd SessionCommand) {
	switch c := cmd.(type) {
	case OpenCommand:
		s.openTargets(ctx, c.Target)
	case CloseCommand:
		s.closeProto(c.Proto)
	case MessageCommand:
		s.routeMessage(c)
	case DisconnectCommand:
		s.shutdown()
	case SetNotifyCommand:
		s.setNotify(c.Proto, c.Interval, c.Token)
	case RemoveNotifyCommand:
		s.removeNotify(c.Proto, c.Token)
	}
}

func (s *session) routeMessage(c MessageCommand) {
	s.mu.Lock()
	sid, open := s.byProto[c.Proto]
	var sub *substream
	if open {
		sub = s.substreams[sid]
	}
	s.mu.Unlock()

	if !open || sub == nil {
		if c.result != nil {
			c.result <- ErrProtoNotOpen
		}
		return
	}
	select {
	case sub.cmdCh <- MessageProtocolEvent{Stream: sid, Proto: c.Proto, Data: c.Data, Priority: c.Priority}:
		if c.result != nil {
			c.result <- nil
		}
	default:
		if c.result != nil {
			c.result <- ErrWouldBlock
		}
	}
}

// substreamFor returns the substream currently bound to proto, or nil if
// none is open.
func (s *session) substreamFor(proto ProtocolID) *substream {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, open := s.byProto[proto]
	if !open {
		return nil
	}
	return s.substreams[sid]
}

// pollSubstreams invokes Poll on every live substream's session-scoped
// handler (§9, scenario S3).
func (s *session) pollSubstreams() {
	s.mu.Lock()
	subs := make([]*substream, 0, len(s.substreams))
	for _, sub := range s.substreams {
		if sub.sessionHandler != nil {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.sessionHandler.Poll(sub.pctx)
	}
}

func (s *session) closeProto(proto ProtocolID) {
	s.mu.Lock()
	sid, open := s.byProto[proto]
	var sub *substream
	if open {
		sub = s.substreams[sid]
	}
	s.mu.Unlock()
	if !open || sub == nil {
		return
	}
	select {
	case sub.cmdCh <- CloseProtocolEvent{Stream: sid, Proto: proto}:
	default:
	}
}

// openTargets opens one outbound substream per protocol matched by
// target, each on its own goroutine since protocol-select involves
// blocking I/O against the muxer.
func (s *session) openTargets(ctx context.Context, target TargetProtocol) {
	for id, info := range s.protos {
		if !target.matches(id) {
			continue
		}
		info := info
		go s.openOutbound(ctx, info)
	}
}

func (s *session) openOutbound(ctx context.Context, info ProtocolInfo) {
	stream, err := s.muxer.OpenStream(ctx)
	if err != nil {
		s.logger.Warn("open stream failed", slog.String("proto", info.Name), slog.String("error", err.Error()))
		return
	}
	version := ""
	if len(info.Versions) > 0 {
		version = info.Versions[0]
	}
	if err := negotiateOutbound(stream, info.Name, version); err != nil {
		s.logger.Debug("protocol select failed", slog.String("proto", info.Name), slog.String("error", err.Error()))
		_ = stream.Close()
		return
	}
	s.registerSubstream(info, stream, version)
}

// acceptLoop accepts inbound substreams from the multiplexer for the
// lifetime of the session.
func (s *session) acceptLoop(ctx context.Context) {
	for {
		stream, err := s.muxer.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.acceptInbound(stream)
	}
}

func (s *session) acceptInbound(stream StreamHandle) {
	name, version, err := negotiateInbound(stream, s.protos)
	if err != nil {
		s.logger.Debug("inbound protocol select failed", slog.String("error", err.Error()))
		_ = stream.Close()
		return
	}
	for _, info := range s.protos {
		if info.Name == name {
			s.registerSubstream(info, stream, version)
			return
		}
	}
}

func (s *session) registerSubstream(info ProtocolInfo, stream StreamHandle, version string) {
	id := s.nextStreamIDValue()
	scfg := substreamConfig{
		SendEventSize: s.cfg.SendEventSize,
		RecvEventSize: s.cfg.RecvEventSize,
		KeepBuffer:    s.cfg.KeepBuffer,
	}
	sub := newSubstream(id, info, s.ctx, stream, scfg, s.upwardCh, s.done, s.logger, s.control)

	s.mu.Lock()
	s.substreams[id] = sub
	s.states[id] = stateOpened
	s.byProto[info.ID] = id
	s.mu.Unlock()

	s.pushUpward(protocolOpenedUp{id: s.ctx.ID, proto: info.ID})
	go sub.run()
}

func (s *session) handleSubstreamEvent(ev ProtocolEvent) {
	switch e := ev.(type) {
	case CloseProtocolEvent:
		s.mu.Lock()
		delete(s.substreams, e.Stream)
		delete(s.states, e.Stream)
		if s.byProto[e.Proto] == e.Stream {
			delete(s.byProto, e.Proto)
		}
		s.mu.Unlock()
		s.pushUpward(protocolClosedUp{id: s.ctx.ID, proto: e.Proto})
	case MessageProtocolEvent:
		s.pushUpward(protocolMessageUp{id: s.ctx.ID, proto: e.Proto, data: e.Data})
	case ErrorProtocolEvent:
		s.pushUpward(protocolErrorUp{id: s.ctx.ID, proto: e.Proto, err: e.Err})
	}
}

func (s *session) pushUpward(ev SessionUpwardEvent) {
	s.svcBuf.pushNormal(ev)
	s.svcBuf.trySend()
}

// shutdown drains all substreams (sending Close to each), marks the
// session closed, and notifies the Service (§4.4 "Session shutdown").
func (s *session) shutdown() {
	if !s.ctx.markClosed() {
		return
	}
	s.stopAllNotify()

	s.mu.Lock()
	subs := make([]*substream, 0, len(s.substreams))
	for _, sub := range s.substreams {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.cmdCh <- CloseProtocolEvent{Stream: sub.id, Proto: sub.proto}:
		default:
		}
	}

	s.drainRemaining()
	close(s.done)

	s.svcBuf.pushHigh(sessionClosedUp{id: s.ctx.ID})
	if s.svcBuf.trySend() == sendPending {
		ch, pending := s.svcBuf.take()
		go flushDetachedUp(ch, pending)
	}
}

func flushDetachedUp(ch chan SessionUpwardEvent, pending []SessionUpwardEvent) {
	for _, ev := range pending {
		select {
		case ch <- ev:
		case <-time.After(teardownFlushTimeout):
			return
		}
	}
}

func (s *session) setNotify(proto ProtocolID, interval time.Duration, token uint64) {
	key := notifyKey{proto: proto, token: token}
	s.notifyMu.Lock()
	if _, exists := s.notifyStop[key]; exists {
		s.notifyMu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.notifyStop[key] = stop
	s.notifyMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.pushUpward(notifyUp{id: s.ctx.ID, proto: proto, token: token})
			}
		}
	}()
}

func (s *session) removeNotify(proto ProtocolID, token uint64) {
	key := notifyKey{proto: proto, token: token}
	s.notifyMu.Lock()
	stop, ok := s.notifyStop[key]
	if ok {
		delete(s.notifyStop, key)
	}
	s.notifyMu.Unlock()
	if ok {
		close(stop)
	}
}

func (s *session) stopAllNotify() {
	s.notifyMu.Lock()
	for k, stop := range s.notifyStop {
		close(stop)
		delete(s.notifyStop, k)
	}
	s.notifyMu.Unlock()
}

// --- Protocol select -------------------------------------------------
//
// A negotiation frame is a single length-delimited text payload of the
// form "name\x00version". This mirrors the multistream-select style
// handshake preambles used by reference yamux/muxado session managers:
// a minimal, codec-framed text exchange performed once per substream
// before any application data flows.

var negotiationCodec = NewLengthDelimitedCodec(4096)

func encodeNegotiation(name, version string) []byte {
	return []byte(name + "\x00" + version)
}

func decodeNegotiation(b []byte) (name, version string) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b), ""
	}
	return string(b[:i]), string(b[i+1:])
}

func negotiateOutbound(stream StreamHandle, name, version string) error {
	frame, err := negotiationCodec.Encode(encodeNegotiation(name, version), nil)
	if err != nil {
		return err
	}
	if _, err := stream.Write(frame); err != nil {
		return err
	}
	reply, err := readNegotiationFrame(stream)
	if err != nil {
		return err
	}
	gotName, gotVersion := decodeNegotiation(reply)
	if gotName != name || gotVersion != version {
		return fmt.Errorf("netmux: protocol select mismatch: wanted %s/%s, got %s/%s", name, version, gotName, gotVersion)
	}
	return nil
}

func negotiateInbound(stream StreamHandle, protos map[ProtocolID]ProtocolInfo) (name, version string, err error) {
	req, err := readNegotiationFrame(stream)
	if err != nil {
		return "", "", err
	}
	wantName, wantVersion := decodeNegotiation(req)

	for _, info := range protos {
		if info.Name != wantName {
			continue
		}
		for _, v := range info.Versions {
			if v == wantVersion {
				frame, encErr := negotiationCodec.Encode(encodeNegotiation(wantName, wantVersion), nil)
				if encErr != nil {
					return "", "", encErr
				}
				if _, werr := stream.Write(frame); werr != nil {
					return "", "", werr
				}
				return wantName, wantVersion, nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: %s/%s", ErrProtocolSelect, wantName, wantVersion)
}

func readNegotiationFrame(stream StreamHandle) ([]byte, error) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for {
		frame, _, ok, err := negotiationCodec.Decode(buf)
		if err != nil {
			return nil, err
		}
		if ok {
			return frame, nil
		}
		n, rerr := stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}
