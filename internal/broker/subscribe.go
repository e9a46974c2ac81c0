package broker

import (
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/tidemq/broker/internal/topic"
	"github.com/tidemq/broker/internal/wire"
)

// handleSubscribe processes a SUBSCRIBE, filtering out invalid or
// ACL-denied filters (SUBACK code 0x80) and delivering any retained
// messages matching a newly-granted filter.
func (b *Broker) handleSubscribe(c *client, pkt *packets.SubscribePacket) error {
	codes := make([]byte, len(pkt.Topics))

	for i, filter := range pkt.Topics {
		qos := pkt.Qoss[i]

		if err := topic.ValidateFilter(filter); err != nil {
			codes[i] = wire.SubackFailure
			continue
		}
		if !b.auth.CheckACL(c.clientID, filter, AccessRead) {
			codes[i] = wire.SubackFailure
			continue
		}

		granted := qos
		if granted > QoS2 {
			granted = QoS2
		}

		b.trie.subscribe(c.clientID, filter, granted)

		c.session.mu.Lock()
		c.session.subs[filter] = granted
		c.session.mu.Unlock()

		codes[i] = granted

		for _, retained := range b.retained.matching(filter) {
			out := &Message{Topic: retained.Topic, Payload: retained.Payload, QoS: min(retained.QoS, granted), Retain: true}
			b.deliver(c.session, out)
		}
	}

	c.send(wire.NewSuback(pkt.MessageID, codes))
	return nil
}

// handleUnsubscribe removes the client's subscription for each requested
// filter. 3.1.1 has no per-filter UNSUBACK codes beyond success.
func (b *Broker) handleUnsubscribe(c *client, pkt *packets.UnsubscribePacket) error {
	for _, filter := range pkt.Topics {
		b.trie.unsubscribe(c.clientID, filter)
		c.session.mu.Lock()
		delete(c.session.subs, filter)
		c.session.mu.Unlock()
	}

	c.send(wire.NewUnsuback(pkt.MessageID))
	return nil
}
