package netmux_test

import (
	"testing"

	"github.com/meshward/p2pmux/internal/netmux"
)

func TestParseMultiaddr_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []string{
		"/ip4/1.2.3.4/tcp/80",
		"/ip6/::1/tcp/80",
		"/dns4/example.com/tcp/443",
		"/dns4/example.com/tcp/443/ws",
		"/dns4/example.com/tcp/443/ws/p2p/QmPeerID",
	}
	for _, s := range cases {
		m, err := netmux.ParseMultiaddr(s)
		if err != nil {
			t.Errorf("ParseMultiaddr(%q) error: %v", s, err)
			continue
		}
		if got := m.String(); got != s {
			t.Errorf("String() = %q, want %q", got, s)
		}
	}
}

func TestParseMultiaddr_Invalid(t *testing.T) {
	t.Parallel()

	cases := []string{"", "ip4/1.2.3.4/tcp/80", "/ip4//tcp/80x/", "/tcp"}
	for _, s := range cases {
		if _, err := netmux.ParseMultiaddr(s); err == nil {
			t.Errorf("ParseMultiaddr(%q) succeeded, want error", s)
		}
	}
}

func TestMultiaddr_Host(t *testing.T) {
	t.Parallel()

	m, err := netmux.ParseMultiaddr("/dns4/example.com/tcp/443/ws/p2p/QmPeer")
	if err != nil {
		t.Fatal(err)
	}
	proto, host, ok := m.Host()
	if !ok || proto != "dns4" || host != "example.com" {
		t.Fatalf("Host() = (%q, %q, %v), want (dns4, example.com, true)", proto, host, ok)
	}
	if !m.HasWS() {
		t.Error("HasWS() = false, want true")
	}
	if id, ok := m.PeerID(); !ok || id != "QmPeer" {
		t.Errorf("PeerID() = (%q, %v), want (QmPeer, true)", id, ok)
	}
	if port, ok := m.TCPPort(); !ok || port != 443 {
		t.Errorf("TCPPort() = (%d, %v), want (443, true)", port, ok)
	}
}

// TestMultiaddr_WithReplacedHost_PreservesSuffixes is §8/§10 property 7:
// resolving a dns4 host into an ip4 literal must preserve trailing ws/p2p
// components untouched.
func TestMultiaddr_WithReplacedHost_PreservesSuffixes(t *testing.T) {
	t.Parallel()

	m, err := netmux.ParseMultiaddr("/dns4/h/tcp/80/ws/p2p/QmDeadBeef")
	if err != nil {
		t.Fatal(err)
	}
	resolved := m.WithReplacedHost("ip4", "127.0.0.1")

	want := "/ip4/127.0.0.1/tcp/80/ws/p2p/QmDeadBeef"
	if got := resolved.String(); got != want {
		t.Fatalf("WithReplacedHost() = %q, want %q", got, want)
	}
}

func TestMultiaddr_WithReplacedHost_LocalhostV6Form(t *testing.T) {
	t.Parallel()

	m, err := netmux.ParseMultiaddr("/dns4/localhost/tcp/80")
	if err != nil {
		t.Fatal(err)
	}
	v4 := m.WithReplacedHost("ip4", "127.0.0.1").String()
	v6 := m.WithReplacedHost("ip6", "::1").String()

	if v4 != "/ip4/127.0.0.1/tcp/80" {
		t.Errorf("v4 form = %q, want /ip4/127.0.0.1/tcp/80", v4)
	}
	if v6 != "/ip6/::1/tcp/80" {
		t.Errorf("v6 form = %q, want /ip6/::1/tcp/80", v6)
	}
}

func TestConnectableAddr_IgnoresComponentOrderAndSuffixes(t *testing.T) {
	t.Parallel()

	a, err := netmux.ParseMultiaddr("/ip4/1.2.3.4/tcp/80/ws/p2p/QmX")
	if err != nil {
		t.Fatal(err)
	}
	b, err := netmux.ParseMultiaddr("/ip4/1.2.3.4/tcp/80")
	if err != nil {
		t.Fatal(err)
	}

	ca, ok := netmux.NewConnectableAddr(a)
	if !ok {
		t.Fatal("NewConnectableAddr(a) failed")
	}
	cb, ok := netmux.NewConnectableAddr(b)
	if !ok {
		t.Fatal("NewConnectableAddr(b) failed")
	}
	if ca != cb {
		t.Fatalf("ConnectableAddr differs despite identical host:port: %+v vs %+v", ca, cb)
	}

	c, err := netmux.ParseMultiaddr("/tcp/80/ip4/1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	cc, ok := netmux.NewConnectableAddr(c)
	if !ok {
		t.Fatal("NewConnectableAddr(c) failed")
	}
	if cc != ca {
		t.Fatalf("ConnectableAddr differs for reordered components: %+v vs %+v", cc, ca)
	}
}

func TestConnectableAddr_Reachable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr string
		want bool
	}{
		{"/ip4/8.8.8.8/tcp/80", true},
		{"/ip4/127.0.0.1/tcp/80", false},
		{"/ip4/192.168.1.1/tcp/80", false},
		{"/ip6/::1/tcp/80", false},
		{"/dns4/example.com/tcp/80", true},
	}
	for _, c := range cases {
		m, err := netmux.ParseMultiaddr(c.addr)
		if err != nil {
			t.Fatal(err)
		}
		ca, ok := netmux.NewConnectableAddr(m)
		if !ok {
			t.Fatalf("NewConnectableAddr(%q) failed", c.addr)
		}
		if got := ca.Reachable(); got != c.want {
			t.Errorf("Reachable(%q) = %v, want %v", c.addr, got, c.want)
		}
	}
}
