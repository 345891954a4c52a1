package netmux_test

import (
	"testing"

	"github.com/meshward/p2pmux/internal/netmux"
)

func mustAddr(t *testing.T, s string) netmux.ConnectableAddr {
	t.Helper()
	m, err := netmux.ParseMultiaddr(s)
	if err != nil {
		t.Fatalf("ParseMultiaddr(%q): %v", s, err)
	}
	a, ok := netmux.NewConnectableAddr(m)
	if !ok {
		t.Fatalf("NewConnectableAddr(%q): no host component", s)
	}
	return a
}

// TestAddrKnown_EvictsOldest is S5: insert 5001 distinct addresses into an
// AddrKnown{max_known=5000}; exactly the first insert is evicted.
func TestAddrKnown_EvictsOldest(t *testing.T) {
	t.Parallel()

	k := netmux.NewAddrKnown(5000)

	addrs := make([]netmux.ConnectableAddr, 5001)
	for i := range addrs {
		addrs[i] = mustAddr(t, addrFor(i))
		k.Insert(addrs[i])
	}

	if k.Len() != 5000 {
		t.Fatalf("Len() = %d, want 5000", k.Len())
	}
	if k.Contains(addrs[0]) {
		t.Fatal("oldest insert still present, want evicted")
	}
	for i := 1; i < len(addrs); i++ {
		if !k.Contains(addrs[i]) {
			t.Fatalf("addrs[%d] = %v missing, want present", i, addrs[i])
		}
	}
}

// TestAddrKnown_DefaultCapacity checks the §6 default of 5000 applies
// when NewAddrKnown is given 0.
func TestAddrKnown_DefaultCapacity(t *testing.T) {
	t.Parallel()

	k := netmux.NewAddrKnown(0)
	for i := 0; i < 5001; i++ {
		k.Insert(mustAddr(t, addrFor(i)))
	}
	if k.Len() != 5000 {
		t.Fatalf("Len() = %d, want 5000 (default capacity)", k.Len())
	}
}

// TestAddrKnown_Remove deletes addresses from the known set.
func TestAddrKnown_Remove(t *testing.T) {
	t.Parallel()

	k := netmux.NewAddrKnown(10)
	a := mustAddr(t, "/ip4/10.0.0.1/tcp/4001")
	b := mustAddr(t, "/ip4/10.0.0.2/tcp/4001")
	k.Insert(a)
	k.Insert(b)

	k.Remove(a)
	if k.Contains(a) {
		t.Fatal("Remove did not remove a")
	}
	if !k.Contains(b) {
		t.Fatal("Remove should not have touched b")
	}
	if k.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", k.Len())
	}
}

// TestAddrKnown_ReinsertDoesNotDoubleCount re-inserting a known address
// keeps the set size the same and keeps it present.
func TestAddrKnown_ReinsertDoesNotDoubleCount(t *testing.T) {
	t.Parallel()

	k := netmux.NewAddrKnown(10)
	a := mustAddr(t, "/ip4/10.0.0.1/tcp/4001")
	k.Insert(a)
	k.Insert(a)

	if k.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", k.Len())
	}
	if !k.Contains(a) {
		t.Fatal("a should still be present after reinsert")
	}
}

func addrFor(i int) string {
	// Walk through the full IPv4 space deterministically; i is bounded
	// well under 2^32 for any test here.
	b0 := byte(i >> 24)
	b1 := byte(i >> 16)
	b2 := byte(i >> 8)
	b3 := byte(i)
	return "/ip4/" + itoa(int(b0)) + "." + itoa(int(b1)) + "." + itoa(int(b2)) + "." + itoa(int(b3)) + "/tcp/4001"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
