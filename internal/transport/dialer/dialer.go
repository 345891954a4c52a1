// Package dialer wires the reference tcplisten/wsconn transports into the
// netmux.Dialer and listener-factory shapes Service.Config expects,
// dispatching on a decoded multiaddr's "/tcp" vs "/ws" suffix.
package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/meshward/p2pmux/internal/netmux"
	"github.com/meshward/p2pmux/internal/transport/tcplisten"
	"github.com/meshward/p2pmux/internal/wsconn"
)

// TCPDialer implements netmux.Dialer over both raw TCP and websocket
// transports, selected by whether the multiaddr carries a "/ws" suffix.
type TCPDialer struct{}

// Dial implements netmux.Dialer.
func (TCPDialer) Dial(ctx context.Context, addr netmux.Multiaddr) (net.Conn, error) {
	_, host, ok := addr.Host()
	if !ok {
		return nil, fmt.Errorf("dialer: %s has no host component", addr)
	}
	port, ok := addr.TCPPort()
	if !ok {
		return nil, fmt.Errorf("dialer: %s has no /tcp port", addr)
	}

	if addr.HasWS() {
		url := wsconn.ParseWSURL(host, port, addr.HasTLS(), "/p2pmux")
		return wsconn.Dial(ctx, url)
	}

	d := net.Dialer{Timeout: dialTimeout}
	hostport := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	return d.DialContext(ctx, "tcp", hostport)
}

// ListenerConfig selects which reference listener implementation to use
// and how it should bind.
type ListenerConfig struct {
	ReusePort bool
	WSPath    string
}

// NewListenerFunc returns a function matching Service.Config.ListenerFunc,
// binding a "/ws" multiaddr to a websocket listener and anything else to
// a plain (SO_REUSEADDR) TCP listener.
func NewListenerFunc(cfg ListenerConfig) func(ctx context.Context, addr netmux.Multiaddr) (netmux.Listener, error) {
	wsPath := cfg.WSPath
	if wsPath == "" {
		wsPath = "/p2pmux"
	}
	return func(ctx context.Context, addr netmux.Multiaddr) (netmux.Listener, error) {
		_, host, ok := addr.Host()
		if !ok {
			return nil, fmt.Errorf("dialer: %s has no host component", addr)
		}
		port, ok := addr.TCPPort()
		if !ok {
			return nil, fmt.Errorf("dialer: %s has no /tcp port", addr)
		}
		hostport := net.JoinHostPort(host, fmt.Sprintf("%d", port))

		if addr.HasWS() {
			ln, err := wsconn.NewListener(hostport, wsPath)
			if err != nil {
				return nil, err
			}
			return wsNetmuxListener{ln: ln, addr: addr}, nil
		}

		ln, err := tcplisten.Listen(ctx, "tcp", hostport, tcplisten.Config{ReusePort: cfg.ReusePort})
		if err != nil {
			return nil, err
		}
		return tcplisten.Wrap(ln, addr), nil
	}
}

type wsNetmuxListener struct {
	ln   *wsconn.Listener
	addr netmux.Multiaddr
}

func (w wsNetmuxListener) Accept() (net.Conn, error)  { return w.ln.Accept() }
func (w wsNetmuxListener) Addr() netmux.Multiaddr      { return w.addr }
func (w wsNetmuxListener) Close() error                { return w.ln.Close() }

// dialTimeout bounds a bare net.Dialer when the caller's context carries
// no deadline of its own.
const dialTimeout = 10 * time.Second
