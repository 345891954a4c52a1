package tcplisten

import (
	"net"

	"github.com/meshward/p2pmux/internal/netmux"
)

// NetmuxListener adapts a net.Listener to netmux.Listener, remembering
// the Multiaddr it was opened for since net.Listener.Addr only returns a
// net.Addr.
type NetmuxListener struct {
	ln   net.Listener
	addr netmux.Multiaddr
}

// Wrap pairs ln with the Multiaddr it was opened from.
func Wrap(ln net.Listener, addr netmux.Multiaddr) *NetmuxListener {
	return &NetmuxListener{ln: ln, addr: addr}
}

func (w *NetmuxListener) Accept() (net.Conn, error) { return w.ln.Accept() }
func (w *NetmuxListener) Addr() netmux.Multiaddr     { return w.addr }
func (w *NetmuxListener) Close() error               { return w.ln.Close() }
