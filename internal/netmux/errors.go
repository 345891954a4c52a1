package netmux

import "errors"

// SendErrorKind classifies the synchronous failure modes of a ServiceControl
// operation. Modeled as a sentinel error (not a string) so callers can use
// errors.Is.
type SendErrorKind error

// Sentinel errors returned synchronously by ServiceControl operations (§7).
var (
	// ErrBrokenPipe indicates the target session's command channel is gone
	// (the session has already torn down).
	ErrBrokenPipe SendErrorKind = errors.New("netmux: broken pipe, session gone")

	// ErrWouldBlock indicates the downstream channel is full; the caller
	// should retry after back-pressure clears.
	ErrWouldBlock SendErrorKind = errors.New("netmux: would block, downstream full")

	// ErrProtoNotOpen indicates the target protocol is not open on the
	// session (Session.Close semantics, §4.4).
	ErrProtoNotOpen SendErrorKind = errors.New("netmux: protocol not open")

	// ErrTransportNotSupported indicates the requested multiaddr scheme has
	// no registered Transport.
	ErrTransportNotSupported SendErrorKind = errors.New("netmux: transport not supported")
)

// Misbehavior-handling outcomes returned by AddressManager.Misbehave (§7).
type MisbehaviorOutcome uint8

const (
	// Continue indicates the session should remain open.
	Continue MisbehaviorOutcome = iota
	// Disconnect indicates the caller should request the session close.
	Disconnect
)

// Sentinel errors shared across the package.
var (
	ErrSessionNotFound  = errors.New("netmux: session not found")
	ErrDuplicateSession = errors.New("netmux: duplicate session for peer key")
	ErrServiceClosed    = errors.New("netmux: service closed")
	ErrSessionClosed    = errors.New("netmux: session closed")
	ErrSubstreamDead    = errors.New("netmux: substream is dead")
	ErrDialFailed       = errors.New("netmux: dial failed")
	ErrHandshakeFailed  = errors.New("netmux: handshake failed")
	ErrProtocolSelect   = errors.New("netmux: protocol select failed")
)
