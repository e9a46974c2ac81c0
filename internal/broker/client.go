package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// client is the per-connection runtime: the live net.Conn attached to a
// Session while it is online. A client exists only while the TCP/TLS/WS
// connection is open; the Session it belongs to outlives it when the
// session is not clean.
type client struct {
	conn    net.Conn
	limited *limitedReader

	clientID   string
	username   string
	clean      bool
	keepAlive  time.Duration
	connectedAt time.Time

	session *Session
	broker  *Broker

	outbound chan packets.ControlPacket
	closed   atomic.Bool

	// disconnectOnce guards handleDisconnect's body: readLoop calls it both
	// explicitly (with the triggering error) and via defer, and a session
	// takeover can also race a client into disconnecting itself.
	disconnectOnce sync.Once

	// gracefulDisconnect is set when a DISCONNECT packet is received, so
	// handleDisconnect knows not to publish the will.
	gracefulDisconnect atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	log *slog.Logger
}

const outboundBufferSize = 256

func newClient(conn net.Conn, broker *Broker, log *slog.Logger) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		conn:        conn,
		limited:     &limitedReader{r: conn, max: broker.cfg.MaxPacketSize},
		broker:      broker,
		outbound:    make(chan packets.ControlPacket, outboundBufferSize),
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
	}
}

// limitedReader wraps a connection so a single oversized packet is caught
// mid-decode instead of being fully buffered by the codec first. max of 0
// means no limit (the protocol ceiling of 256MB still applies via the
// packet's own remaining-length encoding).
type limitedReader struct {
	r     net.Conn
	max   uint32
	count uint32
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if l.max > 0 {
		l.count += uint32(n)
		if l.count > l.max {
			return n, fmt.Errorf("packet exceeds max_packet_size (%d bytes)", l.max)
		}
	}
	return n, err
}

// reset must be called before each ReadPacket call so the byte budget
// applies per packet, not cumulatively over the connection's lifetime.
func (l *limitedReader) reset() {
	l.count = 0
}

func (c *client) ClientID() string        { return c.clientID }
func (c *client) Username() string        { return c.username }
func (c *client) RemoteAddr() net.Addr    { return c.conn.RemoteAddr() }
func (c *client) ConnectedAt() time.Time  { return c.connectedAt }
func (c *client) Clean() bool             { return c.clean }

// send queues pkt for the write loop. It never blocks: it returns false if
// the client is closed or its outbound queue is full, and leaves what to do
// with the unsent packet to the caller (deliver re-queues it on the session).
func (c *client) send(pkt packets.ControlPacket) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.outbound <- pkt:
		return true
	default:
		return false
	}
}

// close tears down the connection exactly once. It does not touch the
// attached Session; callers that evict a client from its session must do
// that separately (see SessionStore.takeOrCreate).
func (c *client) close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()
	close(c.outbound)
	c.conn.Close()
}

// readLoop decodes inbound packets until the connection closes or a
// protocol error occurs, handing each decoded packet to the broker.
func (c *client) readLoop() {
	defer c.broker.handleDisconnect(c, nil)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.keepAlive > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.keepAlive * 3 / 2))
		}

		c.limited.reset()
		pkt, err := packets.ReadPacket(c.limited)
		if err != nil {
			c.broker.handleDisconnect(c, err)
			return
		}

		if err := c.broker.handlePacket(c, pkt); err != nil {
			c.broker.handleDisconnect(c, err)
			return
		}
	}
}

// writeLoop drains the outbound queue to the wire in order, serializing all
// writes to this connection.
func (c *client) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in write loop", "client_id", c.clientID, "panic", r, "stack", string(debug.Stack()))
			c.close()
		}
	}()

	for pkt := range c.outbound {
		if err := pkt.Write(c.conn); err != nil {
			return
		}
	}
}
