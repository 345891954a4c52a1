package netmux

// ProtocolEvent is the tagged union of messages exchanged between a Session
// and one of its Substreams (§3). Modeled as an interface with an unexported
// marker method — the idiomatic substitute for a closed sum type.
type ProtocolEvent interface {
	isProtocolEvent()
}

// OpenProtocolEvent carries the result of a successful protocol-select,
// flowing downward from Session to a freshly created Substream.
type OpenProtocolEvent struct {
	ProtoName string
	Framed    bool
	Version   string
}

// CloseProtocolEvent requests or announces the close of one substream.
type CloseProtocolEvent struct {
	Stream StreamID
	Proto  ProtocolID
}

// MessageProtocolEvent carries application payload in either direction.
type MessageProtocolEvent struct {
	Stream   StreamID
	Proto    ProtocolID
	Data     []byte
	Priority Priority
}

// SelectErrorProtocolEvent reports a failed protocol-select attempt.
type SelectErrorProtocolEvent struct {
	ProtoName string
}

// ErrorProtocolEvent carries a substream-fatal error upward to the Session.
type ErrorProtocolEvent struct {
	Stream StreamID
	Proto  ProtocolID
	Err    error
}

// TimeoutCheckProtocolEvent makes a substream wake its writer so a
// back-pressured flush is retried. Nothing in this package sends it, and
// no idle-timeout policy is enforced; DESIGN.md records the chosen
// semantics.
type TimeoutCheckProtocolEvent struct{}

func (OpenProtocolEvent) isProtocolEvent()        {}
func (CloseProtocolEvent) isProtocolEvent()       {}
func (MessageProtocolEvent) isProtocolEvent()     {}
func (SelectErrorProtocolEvent) isProtocolEvent() {}
func (ErrorProtocolEvent) isProtocolEvent()       {}
func (TimeoutCheckProtocolEvent) isProtocolEvent() {}

// ServiceEvent is delivered to ServiceHandle.HandleEvent for top-level,
// session-independent notifications.
type ServiceEvent interface {
	isServiceEvent()
}

// SessionOpenServiceEvent reports a newly established session.
type SessionOpenServiceEvent struct {
	Session *SessionContext
}

// SessionCloseServiceEvent reports a torn-down session.
type SessionCloseServiceEvent struct {
	Session SessionID
}

// ListenStartedServiceEvent reports a listener becoming active.
type ListenStartedServiceEvent struct {
	Addr Multiaddr
}

// ListenCloseServiceEvent reports a listener shutting down.
type ListenCloseServiceEvent struct {
	Addr Multiaddr
}

// DialerErrorServiceEvent reports a failed outbound dial.
type DialerErrorServiceEvent struct {
	Addr  Multiaddr
	Cause error
}

func (SessionOpenServiceEvent) isServiceEvent()    {}
func (SessionCloseServiceEvent) isServiceEvent()   {}
func (ListenStartedServiceEvent) isServiceEvent()  {}
func (ListenCloseServiceEvent) isServiceEvent()    {}
func (DialerErrorServiceEvent) isServiceEvent()    {}

// ServiceError is delivered to ServiceHandle.HandleError for recoverable,
// non-fatal failures the Service observed.
type ServiceError struct {
	Stage string // "transport", "handshake", "accept", "dial"
	Addr  Multiaddr
	Err   error
}

func (e *ServiceError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *ServiceError) Unwrap() error { return e.Err }

// UserEvent is the union of events delivered to a ServiceProtocol or
// SessionProtocol handler for one (session, protocol) pair.
type UserEvent interface {
	isUserEvent()
}

// ConnectedUserEvent announces a substream has completed protocol-select
// and is ready for traffic. The substream does not construct it: Connected
// reaches handlers through a direct call (substream.dispatchConnected)
// made before the first Received.
type ConnectedUserEvent struct {
	Session *SessionContext
}

// DisconnectedUserEvent announces a substream has fully torn down. Always
// delivered last, paired 1:1 with a prior ConnectedUserEvent.
type DisconnectedUserEvent struct {
	Session *SessionContext
}

// ReceivedUserEvent carries one decoded application frame.
type ReceivedUserEvent struct {
	Session *SessionContext
	Data    []byte
}

// NotifyUserEvent fires a previously registered periodic notify token.
type NotifyUserEvent struct {
	Session *SessionContext
	Token   uint64
}

func (ConnectedUserEvent) isUserEvent()    {}
func (DisconnectedUserEvent) isUserEvent() {}
func (ReceivedUserEvent) isUserEvent()     {}
func (NotifyUserEvent) isUserEvent()       {}
