package netmux

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// ErrInvalidMultiaddr indicates a multiaddr string failed to parse.
var ErrInvalidMultiaddr = errors.New("netmux: invalid multiaddr")

// maComponent is one slash-delimited protocol/value pair, e.g. "ip4"/"1.2.3.4".
type maComponent struct {
	proto string
	value string // empty for flag-like protocols such as "tls" or "ws"
}

// Multiaddr is a parsed, self-describing network address of the form
// "/ip4/1.2.3.4/tcp/80[/tls][/ws][/p2p/<id>]", or the dns4/dns6 equivalent
// (§6). Components preserve their original order.
type Multiaddr struct {
	components []maComponent
}

// flagProtocols never carry a value component.
var flagProtocols = map[string]bool{"tls": true, "ws": true}

// ParseMultiaddr parses the textual form described in §6.
func ParseMultiaddr(s string) (Multiaddr, error) {
	if s == "" || s[0] != '/' {
		return Multiaddr{}, fmt.Errorf("%w: %q: must start with /", ErrInvalidMultiaddr, s)
	}

	parts := strings.Split(s, "/")[1:] // parts[0] == "" dropped by the leading slash

	var comps []maComponent
	for i := 0; i < len(parts); {
		proto := parts[i]
		if proto == "" {
			return Multiaddr{}, fmt.Errorf("%w: %q: empty component", ErrInvalidMultiaddr, s)
		}
		i++
		if flagProtocols[proto] {
			comps = append(comps, maComponent{proto: proto})
			continue
		}
		if i >= len(parts) {
			return Multiaddr{}, fmt.Errorf("%w: %q: %s missing value", ErrInvalidMultiaddr, s, proto)
		}
		comps = append(comps, maComponent{proto: proto, value: parts[i]})
		i++
	}

	return Multiaddr{components: comps}, nil
}

// String renders the multiaddr back to its textual form.
func (m Multiaddr) String() string {
	var b strings.Builder
	for _, c := range m.components {
		b.WriteByte('/')
		b.WriteString(c.proto)
		if c.value != "" {
			b.WriteByte('/')
			b.WriteString(c.value)
		}
	}
	return b.String()
}

// IsZero reports whether m holds no components.
func (m Multiaddr) IsZero() bool { return len(m.components) == 0 }

// value returns the value of the first component matching proto, if any.
func (m Multiaddr) value(proto string) (string, bool) {
	for _, c := range m.components {
		if c.proto == proto {
			return c.value, true
		}
	}
	return "", false
}

// has reports whether a flag-like component (e.g. "ws", "tls") is present.
func (m Multiaddr) has(proto string) bool {
	_, ok := m.value(proto)
	return ok
}

// HasWS reports whether the address names the "/ws" transport suffix.
func (m Multiaddr) HasWS() bool { return m.has("ws") }

// HasTLS reports whether the address names the "/tls" transport suffix.
func (m Multiaddr) HasTLS() bool { return m.has("tls") }

// PeerID returns the /p2p/<id> suffix, if present.
func (m Multiaddr) PeerID() (string, bool) { return m.value("p2p") }

// hostProtocols is the set of protocols that can carry the "first host
// component" per §4.2 — scanned in address order, first match wins.
var hostProtocols = map[string]bool{
	"ip4": true, "ip6": true, "dns4": true, "dns6": true, "tls-sni": true,
}

// firstHostComponent returns the first {ip4,ip6,dns4,dns6,tls-sni} component
// and its kind, scanning left to right, per §4.2.
func (m Multiaddr) firstHostComponent() (proto, value string, ok bool) {
	for _, c := range m.components {
		if hostProtocols[c.proto] {
			return c.proto, c.value, true
		}
	}
	return "", "", false
}

// Host returns the address's first {ip4,ip6,dns4,dns6,tls-sni} component
// and its kind, scanning left to right, per §4.2. This is the exported
// form of firstHostComponent for use outside the package.
func (m Multiaddr) Host() (proto, value string, ok bool) {
	return m.firstHostComponent()
}

// TCPPort returns the /tcp/<port> component's numeric value, if present.
func (m Multiaddr) TCPPort() (uint16, bool) {
	v, ok := m.value("tcp")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// WithReplacedHost returns a copy of m where the {ip4,ip6,dns4,dns6} host
// component is replaced by a newly synthesized one, preserving every other
// component (notably "/ws" and "/p2p/...") in order. Used by the DNS
// resolver to rewrite "/dns4/host/..." into "/ip4/1.2.3.4/...".
func (m Multiaddr) WithReplacedHost(proto, value string) Multiaddr {
	out := make([]maComponent, 0, len(m.components))
	replaced := false
	for _, c := range m.components {
		if hostProtocols[c.proto] && !replaced {
			out = append(out, maComponent{proto: proto, value: value})
			replaced = true
			continue
		}
		out = append(out, c)
	}
	if !replaced {
		out = append([]maComponent{{proto: proto, value: value}}, out...)
	}
	return Multiaddr{components: out}
}

// FromTCPAddr synthesizes a Multiaddr from a net.TCPAddr, as used when
// accepting an inbound connection whose remote address has no multiaddr
// form of its own.
func FromTCPAddr(addr *net.TCPAddr) Multiaddr {
	proto := "ip4"
	ip := addr.IP
	if ip4 := ip.To4(); ip4 == nil {
		proto = "ip6"
	}
	comps := []maComponent{
		{proto: proto, value: ip.String()},
		{proto: "tcp", value: strconv.Itoa(addr.Port)},
	}
	return Multiaddr{components: comps}
}

// hostAddr parses a host component's value as a netip.Addr when the
// component names ip4/ip6; DNS/TLS-SNI names are not IP literals.
func hostAddr(proto, value string) (netip.Addr, bool) {
	if proto != "ip4" && proto != "ip6" {
		return netip.Addr{}, false
	}
	a, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, false
	}
	return a, true
}
