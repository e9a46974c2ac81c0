package broker

import "testing"

func TestSysPublisherTracksPeakNotTotal(t *testing.T) {
	p := newSysPublisher(0, "test", func(string, []byte, bool) {})

	p.onConnect()
	p.onConnect()
	p.onConnect()
	p.onDisconnect()
	p.onDisconnect()

	snap := p.snapshot()
	if snap.ClientsConnected != 1 {
		t.Fatalf("want 1 currently connected, got %d", snap.ClientsConnected)
	}
	if snap.ClientsMaximum != 3 {
		t.Fatalf("want historical peak of 3, got %d", snap.ClientsMaximum)
	}

	p.onDisconnect()
	p.onConnect()
	p.onConnect()

	snap = p.snapshot()
	if snap.ClientsMaximum != 3 {
		t.Fatalf("peak must not regress below its prior high, got %d", snap.ClientsMaximum)
	}
}

func TestSysPublisherByteAndMessageCounters(t *testing.T) {
	p := newSysPublisher(0, "test", func(string, []byte, bool) {})

	p.addBytesIn(10)
	p.addBytesOut(5)
	p.addMsgIn()
	p.addMsgIn()
	p.addMsgOut()

	snap := p.snapshot()
	if snap.BytesReceived != 10 || snap.BytesSent != 5 {
		t.Fatalf("unexpected byte counters: %+v", snap)
	}
	if snap.MessagesReceived != 2 || snap.MessagesSent != 1 {
		t.Fatalf("unexpected message counters: %+v", snap)
	}
}
