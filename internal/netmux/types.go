package netmux

import (
	"fmt"
	"sync/atomic"
)

// SessionID uniquely identifies a Session within one running Service.
// Allocated monotonically from an atomic counter — see nextSessionID.
type SessionID uint64

// ProtocolID identifies one application protocol registered with a Service.
// Assigned by the caller at registration time; zero is never valid.
type ProtocolID uint64

// StreamID uniquely identifies a Substream within its owning Session.
// Allocated monotonically, scoped per session — see Session.nextStreamID.
type StreamID uint64

// idAllocator hands out monotonically increasing, process-unique uint64
// values. SessionID/StreamID only need to be unique and monotonic within
// one running process, not adversary-resistant, since neither ever
// crosses the wire.
type idAllocator struct {
	next atomic.Uint64
}

// next64 returns the next nonzero value from the counter.
func (a *idAllocator) next64() uint64 {
	return a.next.Add(1)
}

var globalSessionIDs idAllocator

func nextSessionID() SessionID {
	return SessionID(globalSessionIDs.next64())
}

// ConnType distinguishes inbound (accepted) from outbound (dialed) sessions.
type ConnType uint8

const (
	// Inbound indicates the remote peer initiated the connection.
	Inbound ConnType = iota + 1
	// Outbound indicates the local side dialed the connection.
	Outbound
)

// String returns the human-readable name for the connection type.
func (t ConnType) String() string {
	switch t {
	case Inbound:
		return "Inbound"
	case Outbound:
		return "Outbound"
	default:
		return "Unknown"
	}
}

// Priority distinguishes the two send lanes shared by every priority buffer
// in the system. High-priority items are control events (open/close/notify);
// Normal-priority items are application data frames.
type Priority uint8

const (
	// Normal is the data lane: drained only after High is empty, and may be
	// starved by a continuous High-priority stream (this is deliberate).
	Normal Priority = iota
	// High is the control lane: always drained first.
	High
)

// String returns the human-readable name for the priority class.
func (p Priority) String() string {
	switch p {
	case High:
		return "High"
	case Normal:
		return "Normal"
	default:
		return "Unknown"
	}
}

// TargetProtocol selects which protocols an Open/Close/broadcast operation
// applies to.
type TargetProtocol struct {
	kind     targetKind
	single   ProtocolID
	multi    []ProtocolID
	filterFn func(ProtocolID) bool
}

type targetKind uint8

const (
	targetAll targetKind = iota
	targetSingle
	targetMulti
	targetFilter
)

// TargetAll selects every registered protocol.
func TargetAll() TargetProtocol { return TargetProtocol{kind: targetAll} }

// TargetSingle selects exactly one protocol.
func TargetSingle(id ProtocolID) TargetProtocol {
	return TargetProtocol{kind: targetSingle, single: id}
}

// TargetMulti selects an explicit list of protocols.
func TargetMulti(ids ...ProtocolID) TargetProtocol {
	return TargetProtocol{kind: targetMulti, multi: ids}
}

// TargetFilter selects every protocol for which pred returns true.
func TargetFilter(pred func(ProtocolID) bool) TargetProtocol {
	return TargetProtocol{kind: targetFilter, filterFn: pred}
}

// matches reports whether id is selected by t.
func (t TargetProtocol) matches(id ProtocolID) bool {
	switch t.kind {
	case targetAll:
		return true
	case targetSingle:
		return t.single == id
	case targetMulti:
		for _, x := range t.multi {
			if x == id {
				return true
			}
		}
		return false
	case targetFilter:
		return t.filterFn != nil && t.filterFn(id)
	default:
		return false
	}
}

// String implements fmt.Stringer for debug logging.
func (t TargetProtocol) String() string {
	switch t.kind {
	case targetAll:
		return "All"
	case targetSingle:
		return fmt.Sprintf("Single(%d)", t.single)
	case targetMulti:
		return fmt.Sprintf("Multi(%v)", t.multi)
	case targetFilter:
		return "Filter(...)"
	default:
		return "Unknown"
	}
}
