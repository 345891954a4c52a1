//go:build linux

// Package tcplisten builds a plain TCP net.Listener with SO_REUSEADDR set
// before bind, via a net.ListenConfig.Control callback over the raw
// socket file descriptor.
package tcplisten

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Config tunes the listening socket.
type Config struct {
	// ReusePort additionally sets SO_REUSEPORT, letting several processes
	// (or goroutines each owning their own listener) share one port with
	// kernel-level load distribution between them.
	ReusePort bool
}

// Listen opens a TCP listener on addr ("host:port") with SO_REUSEADDR
// always set and SO_REUSEPORT set when cfg.ReusePort is true.
func Listen(ctx context.Context, network, addr string, cfg Config) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setSocketOpts(c, cfg)
		},
	}
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("tcplisten: listen %s %s: %w", network, addr, err)
	}
	return ln, nil
}

func setSocketOpts(c syscall.RawConn, cfg Config) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		intFD := int(fd)
		if err := unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
			return
		}
		if cfg.ReusePort {
			if err := unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
				sockErr = fmt.Errorf("set SO_REUSEPORT: %w", err)
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("tcplisten: raw conn control: %w", err)
	}
	return sockErr
}
