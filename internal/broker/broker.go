package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/tidemq/broker/internal/wire"
)

// Config holds the subset of broker behavior that does not belong to any
// single component: connection admission, packet-size and in-flight caps,
// and the CONNECT grace period.
type Config struct {
	MaxConnections  int
	ConnectTimeout  time.Duration
	MaxPacketSize   uint32
	MaxInflight     int
	MaxSessionQueue int
	SysInterval     time.Duration
	BrokerID        string
	Version         string
}

// Broker is the server core (component J): it owns the session store,
// subscription trie, retained store, auth/ACL evaluator and $SYS publisher,
// and is the single entry point transports hand accepted connections to.
type Broker struct {
	cfg  Config
	auth *Authenticator
	log  *slog.Logger

	sessions *SessionStore
	trie     *trie
	retained *retainedStore
	sys      *sysPublisher

	connCount atomic.Int64

	clientsMu sync.RWMutex
	clients   map[string]*client // clientID -> live connection, connected clients only

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shuttingDown atomic.Bool
}

// New builds a Broker. auth must not be nil; callers that want no
// authentication enforced should pass an Authenticator with
// AnonymousAllowed set and no auth file/endpoint configured.
func New(cfg Config, auth *Authenticator, log *slog.Logger) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		cfg:      cfg,
		auth:     auth,
		log:      log,
		sessions: newSessionStore(cfg.MaxSessionQueue),
		trie:     newTrie(),
		retained: newRetainedStore(),
		clients:  make(map[string]*client),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.sys = newSysPublisher(cfg.SysInterval, cfg.Version, b.publishInternal)
	return b
}

// Start begins the $SYS metrics publisher. It does not accept connections;
// call HandleConnection per accepted net.Conn from a listener.
func (b *Broker) Start() {
	b.sys.start()
}

// HandleConnection takes ownership of an accepted connection, enforcing the
// connection cap before any bytes are read. Connections over the cap are
// closed without a response, per the admission policy.
func (b *Broker) HandleConnection(conn net.Conn) {
	if b.shuttingDown.Load() {
		conn.Close()
		return
	}

	if b.cfg.MaxConnections > 0 {
		n := b.connCount.Add(1)
		if n > int64(b.cfg.MaxConnections) {
			b.connCount.Add(-1)
			conn.Close()
			return
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.connCount.Add(-1)
		b.serve(conn)
	}()
}

func (b *Broker) serve(conn net.Conn) {
	c := newClient(conn, b, b.log)

	if b.cfg.ConnectTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(b.cfg.ConnectTimeout))
	}

	c.limited.reset()
	pkt, err := packets.ReadPacket(c.limited)
	if err != nil {
		conn.Close()
		return
	}

	connectPkt, ok := pkt.(*packets.ConnectPacket)
	if !ok {
		conn.Close()
		return
	}

	if err := b.handleConnect(c, connectPkt); err != nil {
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})

	go c.writeLoop()
	c.readLoop()
}

// handlePacket dispatches a decoded control packet to its handler. c must
// already be past CONNECT (handleConnect is invoked directly from serve).
func (b *Broker) handlePacket(c *client, pkt packets.ControlPacket) error {
	c.session.touch()

	switch p := pkt.(type) {
	case *packets.PublishPacket:
		return b.handlePublish(c, p)
	case *packets.PubackPacket:
		return b.handlePuback(c, p)
	case *packets.PubrecPacket:
		return b.handlePubrec(c, p)
	case *packets.PubrelPacket:
		return b.handlePubrel(c, p)
	case *packets.PubcompPacket:
		return b.handlePubcomp(c, p)
	case *packets.SubscribePacket:
		return b.handleSubscribe(c, p)
	case *packets.UnsubscribePacket:
		return b.handleUnsubscribe(c, p)
	case *packets.PingreqPacket:
		c.send(wire.NewPingresp())
		return nil
	case *packets.DisconnectPacket:
		c.gracefulDisconnect.Store(true)
		return errSessionClosed
	case *packets.ConnectPacket:
		return NewError(KindProtocolViolation, "unexpected second CONNECT", nil)
	default:
		return NewError(KindInvalidPacket, fmt.Sprintf("unsupported packet type %T", p), nil)
	}
}

// handleDisconnect runs once per connection teardown: readLoop calls it both
// explicitly (with the triggering error) and via its deferred call with a
// nil cause, so the body is guarded by c.disconnectOnce to keep counters
// like clients/connected from being adjusted twice for the same connection.
func (b *Broker) handleDisconnect(c *client, cause error) {
	c.disconnectOnce.Do(func() {
		b.disconnectClient(c, cause)
	})
}

func (b *Broker) disconnectClient(c *client, cause error) {
	c.close()
	b.sys.onDisconnect()

	b.clientsMu.Lock()
	if b.clients[c.clientID] == c {
		delete(b.clients, c.clientID)
	}
	b.clientsMu.Unlock()

	sess := c.session
	if sess == nil {
		return
	}

	sess.mu.Lock()
	stillOurs := sess.conn == c
	if stillOurs {
		sess.conn = nil
	}
	clean := sess.Clean
	will := sess.will
	sess.mu.Unlock()

	if !stillOurs {
		// A takeover already detached us; nothing left to do.
		return
	}

	ungraceful := !c.gracefulDisconnect.Load()
	if ungraceful && will != nil {
		b.publishInternal(will.Topic, will.Payload, will.Retain)
	}

	if clean {
		b.trie.removeSession(sess.ClientID)
		b.sessions.delete(sess.ClientID)
	}
}

// publishInternal injects a message (a will or a $SYS update) without an
// originating session.
func (b *Broker) publishInternal(topicName string, payload []byte, retain bool) {
	msg := &Message{Topic: topicName, Payload: payload, QoS: QoS0, Retain: retain}
	b.route(msg, "")
}

// Publish is the public entry point for internally-originated publishes
// from embedding callers. The admin API does not publish.
func (b *Broker) Publish(topicName string, payload []byte, retain bool) {
	b.publishInternal(topicName, payload, retain)
}

// Shutdown stops accepting new work, disconnects every connected client,
// and waits for their goroutines to exit or ctx to expire.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.shuttingDown.Store(true)
	b.sys.stop()
	b.cancel()

	b.clientsMu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clientsMu.RUnlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats mirrors the $SYS counters for the admin API's /stats endpoint.
func (b *Broker) Stats() Metrics {
	return b.sys.snapshot()
}

// ClientSnapshot is the admin API's /clients view of one connected client.
type ClientSnapshot struct {
	ClientID         string
	RemoteAddr       string
	ConnectedAt      time.Time
	Clean            bool
	SubscriptionCount int
}

// Clients returns a point-in-time snapshot of every connected client.
func (b *Broker) Clients() []ClientSnapshot {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	out := make([]ClientSnapshot, 0, len(b.clients))
	for _, c := range b.clients {
		c.session.mu.Lock()
		subCount := len(c.session.subs)
		c.session.mu.Unlock()
		out = append(out, ClientSnapshot{
			ClientID:          c.clientID,
			RemoteAddr:        c.RemoteAddr().String(),
			ConnectedAt:       c.ConnectedAt(),
			Clean:             c.clean,
			SubscriptionCount: subCount,
		})
	}
	return out
}
