package netmux

// ConnectableAddr is a normalized, comparable peer-address identity (§3,
// §4.2). It is derived from a Multiaddr by scanning for the first
// host-bearing component ({ip4,ip6,dns4,dns6,tls-sni}) and the tcp
// component; every other component (ws, tls, p2p/...) is ignored, so two
// multiaddrs that differ only in trailing suffixes or component order
// collapse to the same ConnectableAddr. Comparable by value, so it is
// usable directly as a Go map key — the idiomatic substitute for a derived
// Hash/Eq implementation.
type ConnectableAddr struct {
	hostKind string // "ip4", "ip6", "dns4", "dns6", or "tls-sni"
	host     string // wire/text form of the host
	port     uint16
}

// NewConnectableAddr derives a ConnectableAddr from m. ok is false if m has
// no recognizable host component.
func NewConnectableAddr(m Multiaddr) (addr ConnectableAddr, ok bool) {
	proto, host, found := m.firstHostComponent()
	if !found {
		return ConnectableAddr{}, false
	}
	port, _ := m.TCPPort()
	return ConnectableAddr{hostKind: proto, host: host, port: port}, true
}

// String renders a human-readable "kind:host:port" form for logging,
// e.g. "ip4:1.2.3.4:80".
func (a ConnectableAddr) String() string {
	return a.hostKind + ":" + a.host + ":" + portString(a.port)
}

func portString(p uint16) string {
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = byte('0' + p%10)
		p /= 10
	}
	return string(buf[i:])
}

// Reachable reports whether the address is plausibly dialable from the
// public internet (§4.2): non-IP hosts (DNS names, TLS SNI names) are
// assumed reachable since resolution happens later; IP hosts are reachable
// iff the decoded address is routable (not loopback, not private/link-local
// by the host's own classification).
func (a ConnectableAddr) Reachable() bool {
	ip, ok := hostAddr(a.hostKind, a.host)
	if !ok {
		// DNS4/DNS6/TLS-SNI: assumed reachable per §4.2.
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return false
	}
	return true
}

// Port returns the TCP port component, or 0 if absent.
func (a ConnectableAddr) Port() uint16 { return a.port }
