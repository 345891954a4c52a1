// Package netmux implements the session/substream multiplexing engine: a
// Service actor owns many Sessions, each Session owns many Substreams, and
// every hop between them is a typed, priority-capable Go channel rather than
// a shared mutable structure.
//
// The three actors are goroutines, not values a caller ever holds directly.
// User code is handed a ServiceControl (cheap to copy, safe to share) and,
// during protocol callbacks, borrowed *SessionContext / *ProtocolContext
// arguments. Everything else — the multiplexed transport, the encrypted
// channel, DNS resolution — is consumed behind the narrow interfaces in
// transport.go; concrete reference implementations live in sibling packages
// (internal/yamuxlike, internal/securetransport, internal/wsconn).
package netmux
