package registry

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/usbnetserver/bridge/pkg/wsframe"
)

// Kind is the protocol spoken by a registered client.
type Kind int

const (
	// KindRawTCP clients receive device bytes unframed.
	KindRawTCP Kind = iota

	// KindWebSocket clients receive device bytes as binary frames.
	KindWebSocket
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindRawTCP:
		return "raw-tcp"
	case KindWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Client is one network consumer of the device stream.
// All writes go through a per-client mutex so broadcast pushes and
// session replies never interleave on the wire.
type Client struct {
	id   string
	kind Kind
	conn net.Conn

	writeMu sync.Mutex

	owner     atomic.Pointer[Registry]
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewClient wraps an accepted connection.
func NewClient(conn net.Conn, kind Kind) *Client {
	return &Client{
		id:   uuid.NewString(),
		kind: kind,
		conn: conn,
	}
}

// ID returns the unique client identifier.
func (c *Client) ID() string { return c.id }

// Kind returns the client protocol.
func (c *Client) Kind() Kind { return c.kind }

// Conn returns the underlying connection.
func (c *Client) Conn() net.Conn { return c.conn }

// RemoteAddr returns the remote address of the client connection.
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send delivers one chunk of device data in the client's protocol.
func (c *Client) Send(p []byte) error {
	if c.kind == KindWebSocket {
		return c.WriteFrame(wsframe.OpBinary, p)
	}
	return c.Write(p)
}

// Write writes p unframed.
func (c *Client) Write(p []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(p)
	return err
}

// WriteFrame writes p as one WebSocket frame.
func (c *Client) WriteFrame(op wsframe.Opcode, p []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsframe.WriteFrame(c.conn, op, p)
}

// Close closes the connection. It is safe to call more than once and never
// reports an error.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	return c.closed.Load()
}
