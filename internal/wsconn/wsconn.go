// Package wsconn adapts a gorilla/websocket connection to net.Conn so the
// rest of p2pmux — codecs, multiplexers, the secure transport handshake —
// can treat a "/ws" multiaddr exactly like a raw TCP socket, per the
// Dialer/Listener abstraction netmux leaves for transport-specific
// collaborators.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ErrUnsupportedOp is returned by operations a streamed websocket message
// framing can't express (half-close of one direction only).
var ErrUnsupportedOp = errors.New("wsconn: operation not supported over websocket")

// Conn adapts *websocket.Conn to net.Conn, presenting the message stream
// as a flat byte stream: each binary message is read out fully before the
// next is requested, and every Write is sent as its own binary message.
type Conn struct {
	ws *websocket.Conn

	readMu  chan struct{} // 1-buffered mutex, avoids pulling in sync for one field
	readBuf []byte

	writeDeadline time.Time
	readDeadline  time.Time
}

// New wraps an established *websocket.Conn.
func New(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, readMu: make(chan struct{}, 1)}
	c.readMu <- struct{}{}
	return c
}

// Dial opens a websocket connection to urlStr ("ws://" or "wss://") and
// returns it wrapped as a net.Conn.
func Dial(ctx context.Context, urlStr string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("wsconn: dial %s: %w", urlStr, err)
	}
	return New(ws), nil
}

// Read implements io.Reader, pulling the next websocket message when the
// previously buffered one has been fully consumed.
func (c *Conn) Read(p []byte) (int, error) {
	<-c.readMu
	defer func() { c.readMu <- struct{}{} }()

	if len(c.readBuf) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, mapCloseError(err)
		}
		c.readBuf = data
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Write implements io.Writer, sending p as a single binary message.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, mapCloseError(err)
	}
	return len(p), nil
}

func mapCloseError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return err
}

// Close sends a close frame and closes the underlying TCP connection.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// SetDeadline sets both read and write deadlines.
func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return c.ws.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline = t
	return c.ws.SetWriteDeadline(t)
}

// Listener wraps an http.Server upgrade handler so incoming websocket
// connections surface through an Accept loop, matching net.Listener and
// hence netmux.Listener once paired with an address.
type Listener struct {
	upgrader websocket.Upgrader
	connCh   chan net.Conn
	errCh    chan error
	addr     net.Addr
	srv      *http.Server
	closed   chan struct{}
}

// NewListener starts an HTTP server on addr that upgrades every request
// on path to a websocket and hands it to Accept.
func NewListener(addr, path string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wsconn: listen %s: %w", addr, err)
	}

	l := &Listener{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		connCh:   make(chan net.Conn, 16),
		errCh:    make(chan error, 1),
		addr:     ln.Addr(),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case l.errCh <- err:
			default:
			}
		}
	}()

	return l, nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.connCh <- New(ws):
	case <-l.closed:
		_ = ws.Close()
	}
}

// Accept implements net.Listener.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case err := <-l.errCh:
		return nil, err
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Addr implements net.Listener.
func (l *Listener) Addr() net.Addr { return l.addr }

// Close implements net.Listener.
func (l *Listener) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
		close(l.closed)
	}
	return l.srv.Close()
}

// ParseWSURL turns a host:port pair and path into a ws:// URL string,
// used when constructing outbound dial targets from a decoded multiaddr.
func ParseWSURL(host string, port uint16, tls bool, path string) string {
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", host, port), Path: path}
	return u.String()
}
