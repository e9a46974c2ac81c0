package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/tidemq/broker/internal/topic"
	"github.com/tidemq/broker/internal/wire"
)

// CONNACK return codes (MQTT 3.1.1).
const (
	connackAccepted                 = 0
	connackUnacceptableProtoVersion = 1
	connackIdentifierRejected       = 2
	connackServerUnavailable        = 3
	connackBadCredentials           = 4
	connackNotAuthorized            = 5
)

const maxClientIDLen = 65535

// handleConnect runs the CONNECT handshake described in the broker's
// component design: protocol validation, client-id handling, auth/ACL,
// session takeover, will storage, and CONNACK.
func (b *Broker) handleConnect(c *client, pkt *packets.ConnectPacket) error {
	if pkt.ProtocolName != "MQIsdp" && pkt.ProtocolName != "MQTT" {
		return b.rejectConnect(c, connackUnacceptableProtoVersion)
	}
	if pkt.ProtocolVersion != 3 && pkt.ProtocolVersion != 4 {
		return b.rejectConnect(c, connackUnacceptableProtoVersion)
	}

	clientID := pkt.ClientIdentifier
	if len(clientID) > maxClientIDLen {
		return b.rejectConnect(c, connackIdentifierRejected)
	}
	if clientID == "" {
		if !pkt.CleanSession {
			return b.rejectConnect(c, connackIdentifierRejected)
		}
		clientID = generateClientID()
	}

	var username, password string
	if pkt.UsernameFlag {
		username = pkt.Username
	}
	if pkt.PasswordFlag {
		password = string(pkt.Password)
	}

	if !b.auth.Authenticate(b.ctx, c.conn.RemoteAddr(), clientID, username, password) {
		return b.rejectConnect(c, connackBadCredentials)
	}

	c.clientID = clientID
	c.username = username
	c.clean = pkt.CleanSession
	c.keepAlive = time.Duration(pkt.Keepalive) * time.Second

	sess, wasPresent, wasConnected, evict := b.sessions.takeOrCreate(clientID, pkt.CleanSession)
	if evict != nil {
		b.log.Info("session takeover", "client_id", clientID)
		evict.close()
	}
	_ = wasConnected

	if pkt.WillFlag {
		if err := topic.ValidateName(pkt.WillTopic); err != nil {
			return b.rejectConnect(c, connackIdentifierRejected)
		}
	}

	sess.mu.Lock()
	sess.conn = c
	sess.keepAlive = c.keepAlive
	if pkt.WillFlag {
		sess.will = &Message{
			Topic:   pkt.WillTopic,
			Payload: pkt.WillMessage,
			QoS:     pkt.WillQos,
			Retain:  pkt.WillRetain,
		}
	} else {
		sess.will = nil
	}
	sessionPresent := wasPresent && !pkt.CleanSession
	restoredSubs := make(map[string]byte, len(sess.subs))
	for f, q := range sess.subs {
		restoredSubs[f] = q
	}
	pending := sess.drainLocked()
	sess.mu.Unlock()

	c.session = sess

	b.clientsMu.Lock()
	b.clients[clientID] = c
	b.clientsMu.Unlock()

	connack := wire.NewConnack(connackAccepted, sessionPresent)
	if err := wire.Write(c.conn, connack); err != nil {
		return err
	}

	b.sys.onConnect()

	if sessionPresent {
		for filter, qos := range restoredSubs {
			b.trie.subscribe(clientID, filter, qos)
		}
		b.resendInflight(sess)
		for _, msg := range pending {
			b.deliverToSession(sess, msg)
		}
	}

	return nil
}

func (b *Broker) rejectConnect(c *client, code byte) error {
	connack := wire.NewConnack(code, false)
	wire.Write(c.conn, connack)
	return NewError(KindAuthFailure, fmt.Sprintf("connect rejected: code %d", code), nil)
}

func generateClientID() string {
	return fmt.Sprintf("auto-%s", strings.ReplaceAll(time.Now().Format("150405.000000000"), ".", ""))
}
