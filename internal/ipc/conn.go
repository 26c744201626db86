package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("not connected")
)

// Handler handles incoming messages of one verb.
type Handler func(m Message) error

// Conn is one end of the channel.
type Conn struct {
	conn     net.Conn
	mu       sync.Mutex
	handlers map[Verb]Handler
	log      *zap.Logger

	connected bool
	peer      string
}

// NewConn wraps an established connection. A nil logger discards
// messages.
func NewConn(c net.Conn, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{
		conn:      c,
		handlers:  make(map[Verb]Handler),
		log:       log,
		connected: true,
	}
}

// Dial connects to a host listening on addr, a unix socket path when
// network is "unix".
func Dial(ctx context.Context, network, addr string, log *zap.Logger) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return NewConn(c, log), nil
}

// Accept waits for a sub-application on l.
func Accept(l net.Listener, log *zap.Logger) (*Conn, error) {
	c, err := l.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(c, log), nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	return c.conn.Close()
}

// IsConnected returns connection status.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Peer returns the application name announced by the peer.
func (c *Conn) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Handle registers the handler of a verb. It must be called before
// Process.
func (c *Conn) Handle(v Verb, h Handler) {
	c.handlers[v] = h
}

// Send sends a message to the peer.
func (c *Conn) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	_, err := c.conn.Write(m.Encode())
	return err
}

// Process reads and dispatches messages until the peer sends CLOSE or
// hangs up, or ctx is done. APPNAME is recorded before its handler runs.
// Handler errors are logged and do not stop the loop.
func (c *Conn) Process(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		m, err := ReadMessage(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				c.Close()
				return nil
			}
			if errors.Is(err, ErrUnknownVerb) {
				c.log.Warn("ignoring message", zap.Error(err))
				continue
			}
			c.Close()
			return err
		}
		c.log.Debug("message", zap.Stringer("verb", m.Verb), zap.Int("size", len(m.Payload)))

		if m.Verb == VerbAppName {
			c.mu.Lock()
			c.peer = m.Text()
			c.mu.Unlock()
		}
		if h, ok := c.handlers[m.Verb]; ok {
			if err := h(m); err != nil {
				c.log.Warn("message handler failed", zap.Stringer("verb", m.Verb), zap.Error(err))
			}
		}
		if m.Verb == VerbClose {
			c.Close()
			return nil
		}
	}
}
