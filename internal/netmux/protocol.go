package netmux

// ProtocolInfo describes one application protocol registered with a
// Service at construction time. The map ProtocolID→ProtocolInfo is
// immutable after Service startup (§4.5).
type ProtocolInfo struct {
	ID       ProtocolID
	Name     string
	Versions []string
	Codec    Codec

	// ServiceHandler, if non-nil, receives events for every session that
	// opens this protocol, sharing one handler instance.
	ServiceHandler ServiceProtocol
	// SessionHandler, if non-nil, is invoked once per session to obtain a
	// fresh handler instance scoped to that session (§9 "session-level" vs
	// "service-level" handler objects; exercised by scenario S3).
	SessionHandler func() SessionProtocol

	// Event, if true, additionally surfaces every Received frame as a
	// MessageProtocolEvent to the owning Session (§3).
	Event bool
	// BeforeReceive, if non-nil, transforms a decoded frame before it is
	// delivered to user handlers; a returned error tears the substream
	// down with an ErrorProtocolEvent.
	BeforeReceive func([]byte) ([]byte, error)
}

// ProtocolContext is the borrowed argument passed to every ServiceProtocol
// and SessionProtocol callback. It exposes exactly the information a
// handler needs to act on its own substream without granting it ownership
// of the Session or Substream actors (§3 "User code never holds a Session
// or Substream directly").
type ProtocolContext struct {
	Session *SessionContext
	Proto   ProtocolID
	Stream  StreamID
	control ServiceControl
}

// Control returns the cheap-to-copy handle a handler uses to send,
// open, or close protocols — the same handle user code obtains from
// Service.Control().
func (c *ProtocolContext) Control() ServiceControl { return c.control }

// ServiceProtocol is a user-supplied handler shared across every session
// that negotiates this protocol (§6). All methods are synchronous and
// must not block; long-running work belongs behind ServiceControl's
// future-task scheduling.
type ServiceProtocol interface {
	// Init is called once, at Service startup, before any session exists.
	Init(ctx *ServiceContext)
	// Connected fires when the protocol opens on a new substream, always
	// before the first Received for that substream.
	Connected(ctx *ProtocolContext)
	// Disconnected fires exactly once per prior Connected, always last.
	Disconnected(ctx *ProtocolContext)
	// Received delivers one decoded application frame.
	Received(ctx *ProtocolContext, data []byte)
	// Notify fires a previously registered periodic notify token.
	Notify(ctx *ProtocolContext, token uint64)
	// Poll is invoked once per Service dispatch tick, independent of any
	// particular session, for handler-driven background work.
	Poll(ctx *ServiceContext)
}

// SessionProtocol is a user-supplied handler scoped to exactly one
// session — obtained fresh per session via ProtocolInfo.SessionHandler
// (§9, scenario S3).
type SessionProtocol interface {
	Connected(ctx *ProtocolContext)
	Disconnected(ctx *ProtocolContext)
	Received(ctx *ProtocolContext, data []byte)
	Notify(ctx *ProtocolContext, token uint64)
	Poll(ctx *ProtocolContext)
}

// ServiceContext is the borrowed argument passed to ServiceHandle and
// ServiceProtocol.Init/Poll callbacks.
type ServiceContext struct {
	control ServiceControl
}

// Control returns the handle used to drive the Service from inside a
// handler callback.
func (c *ServiceContext) Control() ServiceControl { return c.control }

// ServiceHandle receives session-independent, top-level Service events
// and recoverable errors (§6).
type ServiceHandle interface {
	HandleEvent(ctx *ServiceContext, ev ServiceEvent)
	HandleError(ctx *ServiceContext, err ServiceError)
}

// AddressManager is the narrow trait an optional discovery protocol's
// handler consumes for duplicate-address filtering and misbehavior
// scoring (§3 "consumed by the optional discovery protocol").
type AddressManager interface {
	Known() *AddrKnown
	// Misbehave records a misbehavior observation for sid and returns
	// whether the session should be kept open or disconnected.
	Misbehave(sid SessionID, kind string) MisbehaviorOutcome
}
