package broker

import (
	"fmt"
	"sort"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/tidemq/broker/internal/topic"
	"github.com/tidemq/broker/internal/wire"
)

// handlePublish processes an inbound PUBLISH. QoS 0 and 1 route
// immediately; QoS 2 is held in the session's inflightIn table until the
// matching PUBREL, per the exactly-once contract in component design 4.E.
func (b *Broker) handlePublish(c *client, pkt *packets.PublishPacket) error {
	if err := topic.ValidateName(pkt.TopicName); err != nil {
		return NewError(KindInvalidTopic, "invalid publish topic", err)
	}

	b.sys.addMsgIn()
	b.sys.addBytesIn(len(pkt.Payload))

	allowed := b.auth.CheckACL(c.clientID, pkt.TopicName, AccessWrite)

	msg := &Message{
		Topic:   pkt.TopicName,
		Payload: pkt.Payload,
		QoS:     pkt.Qos,
		Retain:  pkt.Retain,
		Dup:     pkt.Dup,
	}

	switch pkt.Qos {
	case QoS0:
		if allowed {
			b.route(msg, c.clientID)
		}
		return nil

	case QoS1:
		if allowed {
			b.route(msg, c.clientID)
		}
		c.send(wire.NewPuback(pkt.MessageID))
		return nil

	case QoS2:
		c.session.mu.Lock()
		if _, dup := c.session.inflightIn[pkt.MessageID]; dup {
			c.session.mu.Unlock()
			c.send(wire.NewPubrec(pkt.MessageID))
			return nil
		}
		c.session.inflightIn[pkt.MessageID] = &inboundQoS2{msg: msg, allowed: allowed}
		c.session.mu.Unlock()

		c.send(wire.NewPubrec(pkt.MessageID))
		return nil

	default:
		return NewError(KindProtocolViolation, fmt.Sprintf("invalid qos %d", pkt.Qos), nil)
	}
}

func (b *Broker) handlePuback(c *client, pkt *packets.PubackPacket) error {
	c.session.mu.Lock()
	delete(c.session.inflightOut, pkt.MessageID)
	c.session.mu.Unlock()
	return nil
}

func (b *Broker) handlePubrec(c *client, pkt *packets.PubrecPacket) error {
	c.session.mu.Lock()
	flow, ok := c.session.inflightOut[pkt.MessageID]
	if ok {
		flow.phase = phaseAwaitComp
	}
	c.session.mu.Unlock()

	c.send(wire.NewPubrel(pkt.MessageID))
	return nil
}

func (b *Broker) handlePubrel(c *client, pkt *packets.PubrelPacket) error {
	c.session.mu.Lock()
	in, ok := c.session.inflightIn[pkt.MessageID]
	if ok {
		delete(c.session.inflightIn, pkt.MessageID)
	}
	c.session.mu.Unlock()

	c.send(wire.NewPubcomp(pkt.MessageID))

	if ok && in.allowed {
		b.route(in.msg, c.clientID)
	}
	return nil
}

func (b *Broker) handlePubcomp(c *client, pkt *packets.PubcompPacket) error {
	c.session.mu.Lock()
	delete(c.session.inflightOut, pkt.MessageID)
	c.session.mu.Unlock()
	return nil
}

// route fans msg out to every session subscribed to a matching filter, per
// component design 4.G. senderClientID is informational only (3.1.1 has no
// no-local option).
func (b *Broker) route(msg *Message, senderClientID string) {
	if msg.Retain {
		b.retained.store(msg)
	}

	subs := b.trie.match(msg.Topic)
	for clientID, grantedQoS := range subs {
		sess, ok := b.sessions.get(clientID)
		if !ok {
			continue
		}
		deliverQoS := grantedQoS
		if msg.QoS < deliverQoS {
			deliverQoS = msg.QoS
		}
		out := &Message{Topic: msg.Topic, Payload: msg.Payload, QoS: deliverQoS, Retain: false}
		b.deliver(sess, out)
	}
}

// deliver sends msg to sess if it is online, tracking QoS 1/2 in-flight
// state; otherwise (or if the online send fails) it is queued, applying the
// bounded-queue overflow policy from design note 9(a).
func (b *Broker) deliver(sess *Session, msg *Message) {
	sess.mu.Lock()
	conn := sess.conn
	if conn == nil {
		overflow := sess.enqueueLocked(msg)
		sess.mu.Unlock()
		if overflow != nil && overflow.mustDisconnect {
			b.log.Warn("session queue overflow, disconnecting", "client_id", sess.ClientID)
		}
		return
	}

	var id uint16
	if msg.QoS > QoS0 {
		id = sess.allocID()
		if len(sess.inflightOut) >= b.cfg.MaxInflight && b.cfg.MaxInflight > 0 {
			overflow := sess.enqueueLocked(msg)
			sess.mu.Unlock()
			if overflow != nil && overflow.mustDisconnect {
				conn.close()
			}
			return
		}
		phase := phaseAwaitAck
		if msg.QoS == QoS2 {
			phase = phaseAwaitRec
		}
		sess.inflightOut[id] = &outFlow{msg: msg, phase: phase}
	}
	sess.mu.Unlock()

	pkt := wire.NewPublish(msg.Topic, msg.Payload, msg.QoS, msg.Retain, false, id)
	if !conn.send(pkt) {
		sess.mu.Lock()
		if msg.QoS > QoS0 {
			delete(sess.inflightOut, id)
		}
		overflow := sess.enqueueLocked(msg)
		sess.mu.Unlock()
		if overflow != nil && overflow.mustDisconnect {
			conn.close()
		}
		return
	}

	b.sys.addMsgOut()
	b.sys.addBytesOut(len(msg.Payload))
}

// deliverToSession resends a drained queued message to a session that just
// reconnected; its connection is guaranteed non-nil by the caller.
func (b *Broker) deliverToSession(sess *Session, msg *Message) {
	b.deliver(sess, msg)
}

// resendInflight re-emits every QoS 1/2 delivery left unacknowledged across
// a disconnect, in packet-id order, on a non-clean resume (component design
// 4.E: "on reconnect, resend with DUP=1"). A flow still awaiting PUBREC is
// resent as PUBLISH with DUP set; a flow already past PUBREC (awaiting
// PUBCOMP) is resent as PUBREL, since the PUBLISH itself was already
// acknowledged.
func (b *Broker) resendInflight(sess *Session) {
	sess.mu.Lock()
	conn := sess.conn
	if conn == nil {
		sess.mu.Unlock()
		return
	}

	ids := make([]uint16, 0, len(sess.inflightOut))
	for id := range sess.inflightOut {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	flows := make([]*outFlow, len(ids))
	for i, id := range ids {
		flow := sess.inflightOut[id]
		flow.dup = true
		flows[i] = flow
	}
	sess.mu.Unlock()

	for i, id := range ids {
		flow := flows[i]
		if flow.phase == phaseAwaitComp {
			conn.send(wire.NewPubrel(id))
			continue
		}
		conn.send(wire.NewPublish(flow.msg.Topic, flow.msg.Payload, flow.msg.QoS, flow.msg.Retain, flow.dup, id))
	}
}
