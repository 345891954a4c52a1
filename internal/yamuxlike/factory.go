package yamuxlike

import (
	"context"
	"net"

	"github.com/meshward/p2pmux/internal/netmux"
)

// Factory adapts Session to netmux.MuxerFactory so a Service can be
// configured to multiplex every authenticated connection with this
// package instead of a production yamux library.
type Factory struct {
	Config Config
}

// NewFactory returns a Factory using DefaultConfig.
func NewFactory() *Factory {
	return &Factory{Config: DefaultConfig()}
}

// NewMuxer implements netmux.MuxerFactory. Stream-id parity follows ty:
// outbound sessions allocate odd ids, inbound sessions allocate even ids,
// so independently-numbered peers never collide.
func (f *Factory) NewMuxer(conn net.Conn, ty netmux.ConnType) (netmux.StreamMuxer, error) {
	client := ty == netmux.Outbound
	return &muxerAdapter{sess: NewSession(conn, f.Config, client)}, nil
}

// muxerAdapter narrows Session's *Stream-returning methods to
// netmux.StreamHandle, satisfying netmux.StreamMuxer.
type muxerAdapter struct {
	sess *Session
}

func (m *muxerAdapter) OpenStream(ctx context.Context) (netmux.StreamHandle, error) {
	return m.sess.OpenStream(ctx)
}

func (m *muxerAdapter) AcceptStream(ctx context.Context) (netmux.StreamHandle, error) {
	return m.sess.AcceptStream(ctx)
}

func (m *muxerAdapter) Close() error {
	return m.sess.Close()
}
