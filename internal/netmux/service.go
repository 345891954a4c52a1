package netmux

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// sendMessageTimeout bounds how long SendMessageTo/QuickSendMessageTo
// block waiting for a session to confirm whether the target protocol is
// open, before degrading to ErrWouldBlock (§7 "Send" error taxonomy).
const sendMessageTimeout = time.Second

// Config holds the core engine's own tuning knobs (§8), independent of
// how a caller assembles them — the ambient configuration package
// translates a loaded YAML/env Config into this shape.
type Config struct {
	Protocols      map[ProtocolID]ProtocolInfo
	Listen         []Multiaddr
	MaxConnections int
	SendEventSize  int
	RecvEventSize  int
	KeepBuffer     bool
	Timeout        time.Duration
	LocalKey       PrivateKey

	Transport    Transport
	MuxerFactory MuxerFactory
	Dialer       Dialer
	ListenerFunc func(ctx context.Context, addr Multiaddr) (Listener, error)
	Resolver     Resolver
}

// sessionEntry is the Service's registry record for one live session.
type sessionEntry struct {
	sess          *session
	ctx           *SessionContext
	cmdCh         chan SessionCommand
	cmdBuf        *priorityBuffer[SessionCommand]
	openProtocols map[ProtocolID]struct{}
}

// Service is the top-level actor owning every Session, every listener,
// and the registered protocol table (§4.5). Exactly one goroutine group,
// supervised by an errgroup, drives its accept loops and its upward-event
// dispatch loop; ServiceControl provides the thread-safe, cheap-to-copy
// public API every other goroutine uses to reach it.
type Service struct {
	cfg    Config
	handle ServiceHandle
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
	listens  []Multiaddr

	upwardCh chan SessionUpwardEvent

	notifyMu   sync.Mutex
	notifyStop map[notifyKey]chan struct{}

	dialGroup singleflight.Group

	g      *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc

	listeners   []Listener
	listenersMu sync.Mutex

	closeOnce sync.Once
}

// NewService constructs a Service ready to Run. The caller is expected to
// call Control() to obtain a ServiceControl for every protocol handler
// before starting Run.
func NewService(cfg Config, handle ServiceHandle, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		handle:     handle,
		logger:     logger,
		sessions:   make(map[SessionID]*sessionEntry),
		upwardCh:   make(chan SessionUpwardEvent, 1024),
		notifyStop: make(map[notifyKey]chan struct{}),
	}
}

// Control returns a cheap-to-copy handle bound to this Service (§3
// "User code never holds a Session or Substream directly; it holds a
// ServiceControl").
func (svc *Service) Control() ServiceControl { return ServiceControl{svc: svc} }

// Run starts every configured listener, initializes protocol handlers,
// and blocks until ctx is cancelled or Shutdown is called. It realizes
// §4.5's dispatch loop as a small errgroup-supervised goroutine set
// rather than a single hand-rolled poll loop.
func (svc *Service) Run(ctx context.Context) error {
	svc.gctx, svc.cancel = context.WithCancel(ctx)
	svc.g, svc.gctx = errgroup.WithContext(svc.gctx)

	sctx := &ServiceContext{control: svc.Control()}
	for _, info := range svc.cfg.Protocols {
		if info.ServiceHandler != nil {
			info.ServiceHandler.Init(sctx)
		}
	}

	for _, addr := range svc.cfg.Listen {
		if err := svc.startListener(svc.gctx, addr); err != nil {
			svc.cancel()
			return fmt.Errorf("netmux: start listener %s: %w", addr, err)
		}
	}

	svc.g.Go(func() error {
		svc.dispatchLoop(svc.gctx, sctx)
		return nil
	})

	svc.g.Go(func() error {
		svc.pollLoop(svc.gctx, sctx)
		return nil
	})

	err := svc.g.Wait()
	if err != nil && svc.gctx.Err() != nil {
		return nil // normal shutdown via context cancellation
	}
	return err
}

// pollLoop invokes every ServiceProtocol.Poll once per tick, and every
// live substream's SessionProtocol.Poll alongside it (§4.5 step 6's
// "poll" responsibility, generalized beyond timer firing).
func (svc *Service) pollLoop(ctx context.Context, sctx *ServiceContext) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, info := range svc.cfg.Protocols {
				if info.ServiceHandler != nil {
					info.ServiceHandler.Poll(sctx)
				}
			}
			svc.pollSessionHandlers()
		}
	}
}

// pollSessionHandlers invokes Poll on every live substream's
// session-scoped handler, for protocols configured with a SessionHandler.
func (svc *Service) pollSessionHandlers() {
	svc.mu.RLock()
	entries := make([]*sessionEntry, 0, len(svc.sessions))
	for _, e := range svc.sessions {
		entries = append(entries, e)
	}
	svc.mu.RUnlock()

	for _, entry := range entries {
		entry.sess.pollSubstreams()
	}
}

// dispatchLoop is the Service's own actor loop: it is the sole reader of
// upwardCh and the sole mutator of the session registry.
func (svc *Service) dispatchLoop(ctx context.Context, sctx *ServiceContext) {
	for {
		select {
		case <-ctx.Done():
			svc.teardownAll()
			return
		case ev := <-svc.upwardCh:
			svc.handleUpward(sctx, ev)
		}
	}
}

func (svc *Service) handleUpward(sctx *ServiceContext, ev SessionUpwardEvent) {
	switch e := ev.(type) {
	case sessionOpenedUp:
		svc.handle.HandleEvent(sctx, SessionOpenServiceEvent{Session: e.ctx})
	case sessionClosedUp:
		svc.mu.Lock()
		delete(svc.sessions, e.id)
		svc.mu.Unlock()
		svc.handle.HandleEvent(sctx, SessionCloseServiceEvent{Session: e.id})
	case protocolOpenedUp:
		svc.mu.Lock()
		if entry := svc.sessions[e.id]; entry != nil {
			entry.openProtocols[e.proto] = struct{}{}
		}
		svc.mu.Unlock()
	case protocolClosedUp:
		svc.mu.Lock()
		if entry := svc.sessions[e.id]; entry != nil {
			delete(entry.openProtocols, e.proto)
		}
		svc.mu.Unlock()
	case protocolMessageUp:
		// Message events are delivered to user handlers directly from the
		// substream's deliverLoop; this upward copy exists for service-wide
		// observers (e.g. metrics, discovery) and carries no handler
		// dispatch of its own beyond what Received already did.
	case protocolErrorUp:
		svc.logger.Warn("protocol error",
			slog.Uint64("session_id", uint64(e.id)),
			slog.Uint64("proto_id", uint64(e.proto)),
			slog.String("error", e.err.Error()))
	case notifyUp:
		svc.dispatchNotify(e.id, e.proto, e.token)
	}
}

// dispatchSessionHandler invokes onService against the protocol's shared
// ServiceHandler (if configured) and onSession against the owning
// substream's per-session SessionProtocol instance (if configured),
// for the substream currently bound to pid on sid.
func (svc *Service) dispatchSessionHandler(
	sid SessionID,
	pid ProtocolID,
	onService func(*ProtocolContext, ServiceProtocol),
	onSession func(*ProtocolContext, SessionProtocol),
) {
	info, ok := svc.cfg.Protocols[pid]
	if !ok {
		return
	}
	svc.mu.RLock()
	entry := svc.sessions[sid]
	svc.mu.RUnlock()
	if entry == nil {
		return
	}
	pctx := &ProtocolContext{Session: entry.ctx, Proto: pid, control: svc.Control()}

	if info.ServiceHandler != nil {
		onService(pctx, info.ServiceHandler)
	}
	if sub := entry.sess.substreamFor(pid); sub != nil && sub.sessionHandler != nil {
		onSession(pctx, sub.sessionHandler)
	}
}

func (svc *Service) dispatchNotify(sid SessionID, pid ProtocolID, token uint64) {
	svc.dispatchSessionHandler(sid, pid,
		func(ctx *ProtocolContext, h ServiceProtocol) { h.Notify(ctx, token) },
		func(ctx *ProtocolContext, h SessionProtocol) { h.Notify(ctx, token) },
	)
}

// teardownAll is invoked once, when the Service's context is cancelled
// (Shutdown), dropping every session's command-sender handle so each
// Session observes channel closure and tears itself down (§5).
func (svc *Service) teardownAll() {
	svc.listenersMu.Lock()
	for _, ln := range svc.listeners {
		_ = ln.Close()
	}
	svc.listenersMu.Unlock()

	svc.mu.Lock()
	entries := make([]*sessionEntry, 0, len(svc.sessions))
	for _, e := range svc.sessions {
		entries = append(entries, e)
	}
	svc.mu.Unlock()

	for _, e := range entries {
		close(e.cmdCh)
	}

	svc.notifyMu.Lock()
	for k, stop := range svc.notifyStop {
		close(stop)
		delete(svc.notifyStop, k)
	}
	svc.notifyMu.Unlock()
}

// startListener begins accepting inbound connections on addr and
// supervises the accept loop under the Service's errgroup.
func (svc *Service) startListener(ctx context.Context, addr Multiaddr) error {
	if svc.cfg.ListenerFunc == nil {
		return fmt.Errorf("netmux: %w: no listener factory configured", ErrTransportNotSupported)
	}
	ln, err := svc.cfg.ListenerFunc(ctx, addr)
	if err != nil {
		return err
	}

	svc.listenersMu.Lock()
	svc.listeners = append(svc.listeners, ln)
	svc.listenersMu.Unlock()

	svc.mu.Lock()
	svc.listens = append(svc.listens, addr)
	svc.mu.Unlock()

	svc.g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	svc.g.Go(func() error {
		svc.acceptLoop(ctx, ln)
		return nil
	})

	return nil
}

func (svc *Service) acceptLoop(ctx context.Context, ln Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go svc.acceptConn(ctx, conn)
	}
}

func (svc *Service) acceptConn(ctx context.Context, conn net.Conn) {
	if svc.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, svc.cfg.Timeout)
		defer cancel()
	}

	remotePub, authed, err := svc.cfg.Transport.HandshakeInbound(ctx, conn, svc.cfg.LocalKey)
	if err != nil {
		svc.logger.Warn("inbound handshake failed", slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	muxer, err := svc.cfg.MuxerFactory.NewMuxer(authed, Inbound)
	if err != nil {
		svc.logger.Warn("inbound muxer setup failed", slog.String("error", err.Error()))
		_ = authed.Close()
		return
	}

	svc.attachSession(ctx, FromTCPAddr(tcpAddrOf(conn)), Inbound, remotePub, muxer)
}

func tcpAddrOf(conn net.Conn) *net.TCPAddr {
	if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return a
	}
	return &net.TCPAddr{}
}

func (svc *Service) attachSession(ctx context.Context, addr Multiaddr, ty ConnType, remotePub PublicKey, muxer StreamMuxer) SessionID {
	id := nextSessionID()
	scfg := sessionConfig{
		SendEventSize: svc.cfg.SendEventSize,
		RecvEventSize: svc.cfg.RecvEventSize,
		KeepBuffer:    svc.cfg.KeepBuffer,
		Timeout:       svc.cfg.Timeout,
	}
	sess := newSession(id, addr, ty, remotePub, muxer, svc.cfg.Protocols, scfg, svc.upwardCh, svc.gctx.Done(), svc.Control(), svc.logger)

	entry := &sessionEntry{
		sess:          sess,
		ctx:           sess.ctx,
		cmdCh:         sess.cmdCh,
		cmdBuf:        newPriorityBuffer(sess.cmdCh, svc.gctx.Done()),
		openProtocols: make(map[ProtocolID]struct{}),
	}

	svc.mu.Lock()
	svc.sessions[id] = entry
	svc.mu.Unlock()

	go sess.run(svc.gctx)
	return id
}

// dial resolves (if needed) and connects to addr, performs the outbound
// transport handshake, attaches a Session, and opens target's protocols.
func (svc *Service) dial(ctx context.Context, addr Multiaddr, target TargetProtocol) error {
	resolved := addr
	if _, host, ok := addr.firstHostComponent(); ok && (host != "") && isDNSHost(addr) {
		if svc.cfg.Resolver == nil {
			return fmt.Errorf("netmux: %w: no resolver configured for %s", ErrDialFailed, addr)
		}
		r, err := svc.cfg.Resolver.Resolve(ctx, addr)
		if err != nil {
			svc.handle.HandleError(&ServiceContext{control: svc.Control()}, ServiceError{Stage: "dial", Addr: addr, Err: err})
			return fmt.Errorf("%w: %v", ErrDialFailed, err)
		}
		resolved = r
	}

	v, err, _ := svc.dialGroup.Do(resolved.String(), func() (any, error) {
		if svc.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, svc.cfg.Timeout)
			defer cancel()
		}
		conn, derr := svc.cfg.Dialer.Dial(ctx, resolved)
		if derr != nil {
			return nil, derr
		}
		remotePub, authed, herr := svc.cfg.Transport.HandshakeOutbound(ctx, conn, svc.cfg.LocalKey)
		if herr != nil {
			_ = conn.Close()
			return nil, herr
		}
		muxer, merr := svc.cfg.MuxerFactory.NewMuxer(authed, Outbound)
		if merr != nil {
			_ = authed.Close()
			return nil, merr
		}
		return svc.attachSession(ctx, resolved, Outbound, remotePub, muxer), nil
	})
	if err != nil {
		svc.handle.HandleError(&ServiceContext{control: svc.Control()}, ServiceError{Stage: "dial", Addr: addr, Err: err})
		return fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	sid := v.(SessionID)
	svc.mu.RLock()
	entry := svc.sessions[sid]
	svc.mu.RUnlock()
	if entry == nil {
		return ErrBrokenPipe
	}
	select {
	case entry.cmdCh <- OpenCommand{Target: target}:
		return nil
	default:
		return ErrWouldBlock
	}
}

func isDNSHost(addr Multiaddr) bool {
	_, ok := addr.value("dns4")
	if ok {
		return true
	}
	_, ok = addr.value("dns6")
	return ok
}

// Shutdown performs the abrupt form of teardown: cancels the Service's
// context immediately, in-flight messages may be lost (§4.5 "shutdown()").
func (svc *Service) Shutdown() {
	svc.closeOnce.Do(func() {
		if svc.cancel != nil {
			svc.cancel()
		}
	})
}

// Close performs the orderly shutdown sequence: stop listeners, request
// every session to disconnect, wait briefly, then cancel (§4.5
// "close()").
func (svc *Service) Close() {
	svc.listenersMu.Lock()
	for _, ln := range svc.listeners {
		_ = ln.Close()
	}
	svc.listenersMu.Unlock()

	svc.mu.RLock()
	entries := make([]*sessionEntry, 0, len(svc.sessions))
	for _, e := range svc.sessions {
		entries = append(entries, e)
	}
	svc.mu.RUnlock()

	for _, e := range entries {
		select {
		case e.cmdCh <- DisconnectCommand{}:
		default:
		}
	}

	time.Sleep(200 * time.Millisecond)
	svc.Shutdown()
}
