package netmux

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/idna"
)

// StdResolver resolves dns4/dns6 multiaddrs using the standard library's
// asynchronous resolver, run on the default goroutine-per-lookup model
// (§6 "DNS resolver"). Internationalized hostnames are normalized with
// golang.org/x/net/idna before lookup.
type StdResolver struct {
	Resolver *net.Resolver
}

// NewStdResolver returns a StdResolver using net.DefaultResolver.
func NewStdResolver() *StdResolver {
	return &StdResolver{Resolver: net.DefaultResolver}
}

// Resolve implements Resolver. Only dns4/dns6 components trigger a
// lookup; any other multiaddr is returned unchanged. When multiple IPs
// are returned, only the first is used; every other component —
// including "ws" and "p2p" suffixes — is preserved in place (§6, tested
// property 7).
func (r *StdResolver) Resolve(ctx context.Context, addr Multiaddr) (Multiaddr, error) {
	proto, host, ok := addr.firstHostComponent()
	if !ok || (proto != "dns4" && proto != "dns6") {
		return addr, nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return addr, fmt.Errorf("netmux: normalize hostname %q: %w", host, err)
	}

	network := "ip4"
	if proto == "dns6" {
		network = "ip6"
	}

	ips, err := r.Resolver.LookupIP(ctx, network, ascii)
	if err != nil {
		return addr, fmt.Errorf("netmux: resolve %s: %w", ascii, err)
	}
	if len(ips) == 0 {
		return addr, fmt.Errorf("netmux: no addresses for %s", ascii)
	}

	resolvedProto := "ip4"
	if proto == "dns6" {
		resolvedProto = "ip6"
	}
	return addr.WithReplacedHost(resolvedProto, ips[0].String()), nil
}
