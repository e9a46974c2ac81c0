// Package wire holds packet constructors and read/write helpers over the
// external MQTT wire codec. It is not the only importer of the packets
// library: the broker package also imports it to read packets and to
// type-switch on decoded packet types.
package wire

import (
	"io"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// ReadPacket blocks until a full control packet has been read from r.
func ReadPacket(r io.Reader) (packets.ControlPacket, error) {
	return packets.ReadPacket(r)
}

// Write writes a control packet to w.
func Write(w io.Writer, pkt packets.ControlPacket) error {
	return pkt.Write(w)
}

func NewConnack(returnCode byte, sessionPresent bool) *packets.ConnackPacket {
	p := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	p.ReturnCode = returnCode
	p.SessionPresent = sessionPresent
	return p
}

func NewPublish(topic string, payload []byte, qos byte, retain, dup bool, packetID uint16) *packets.PublishPacket {
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.TopicName = topic
	p.Payload = payload
	p.Qos = qos
	p.Retain = retain
	p.Dup = dup
	p.MessageID = packetID
	return p
}

func NewPuback(id uint16) *packets.PubackPacket {
	p := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	p.MessageID = id
	return p
}

func NewPubrec(id uint16) *packets.PubrecPacket {
	p := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
	p.MessageID = id
	return p
}

func NewPubrel(id uint16) *packets.PubrelPacket {
	p := packets.NewControlPacket(packets.Pubrel).(*packets.PubrelPacket)
	p.Qos = 1
	p.MessageID = id
	return p
}

func NewPubcomp(id uint16) *packets.PubcompPacket {
	p := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
	p.MessageID = id
	return p
}

func NewSuback(id uint16, codes []byte) *packets.SubackPacket {
	p := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
	p.MessageID = id
	p.ReturnCodes = codes
	return p
}

func NewUnsuback(id uint16) *packets.UnsubackPacket {
	p := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
	p.MessageID = id
	return p
}

func NewPingresp() *packets.PingrespPacket {
	return packets.NewControlPacket(packets.Pingresp).(*packets.PingrespPacket)
}

// SubackFailure is the per-filter failure code a SUBACK uses when a
// subscription is denied or otherwise rejected.
const SubackFailure = 0x80

// Suback granted-QoS codes are simply the granted QoS value (0, 1, 2).
