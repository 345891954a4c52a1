package netmux

import (
	"sync/atomic"
)

// SessionContext is the shared, reference-counted-by-pointer state
// describing one connection to one remote peer (§3). Every field besides
// the two atomics is set once at construction and never mutated
// afterward, so it is safe to read from any actor without a lock.
type SessionContext struct {
	ID            SessionID
	Addr          Multiaddr
	Ty            ConnType
	RemotePubKey  PublicKey // nil if the transport performed no handshake

	// closed flips exactly once, monotonically, when the session begins
	// tearing down.
	closed atomic.Bool

	// pendingDataSize is the total byte count buffered between the user
	// API and the transport: incremented on push into a send buffer,
	// decremented when the frame is handed to the multiplexer (§3, tested
	// property 2 "counter balance").
	pendingDataSize atomic.Int64
}

// Closed reports whether the session has begun (or finished) tearing
// down.
func (c *SessionContext) Closed() bool { return c.closed.Load() }

// markClosed sets closed to true and reports whether this call was the
// one that made the transition (so teardown logic runs exactly once).
func (c *SessionContext) markClosed() bool {
	return c.closed.CompareAndSwap(false, true)
}

// PendingDataSize returns the current best-effort gauge of buffered
// bytes. Never used as an admission gate inside the core (§5).
func (c *SessionContext) PendingDataSize() int64 { return c.pendingDataSize.Load() }

func (c *SessionContext) incrPendingDataSize(n int64) { c.pendingDataSize.Add(n) }

func (c *SessionContext) decrPendingDataSize(n int64) { c.pendingDataSize.Add(-n) }
