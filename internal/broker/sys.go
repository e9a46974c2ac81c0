package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// sysPublisher is component H: a timer-driven publisher of $SYS metrics.
// Counters are broker-global and monotonic except connected (a live gauge)
// and maxConn (its historical peak).
type sysPublisher struct {
	publish func(topicName string, payload []byte, retain bool)

	interval time.Duration
	version  string

	startTime time.Time

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	msgsIn   atomic.Int64
	msgsOut  atomic.Int64

	connected atomic.Int64
	maxConn   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newSysPublisher(interval time.Duration, version string, publish func(string, []byte, bool)) *sysPublisher {
	return &sysPublisher{
		publish:   publish,
		interval:  interval,
		version:   version,
		startTime: time.Now(),
	}
}

func (p *sysPublisher) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.publish("$SYS/broker/version", []byte(p.version), true)
	go p.loop(ctx)
}

func (p *sysPublisher) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *sysPublisher) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *sysPublisher) tick() {
	uptime := int64(time.Since(p.startTime).Seconds())
	p.emit("$SYS/broker/uptime", uptime)
	p.emit("$SYS/broker/bytes/received", p.bytesIn.Load())
	p.emit("$SYS/broker/bytes/sent", p.bytesOut.Load())
	p.emit("$SYS/broker/messages/received", p.msgsIn.Load())
	p.emit("$SYS/broker/messages/sent", p.msgsOut.Load())
	p.emit("$SYS/broker/clients/connected", p.connected.Load())
	p.emit("$SYS/broker/clients/maximum", p.maxConn.Load())
}

func (p *sysPublisher) emit(topic string, value int64) {
	p.publish(topic, []byte(fmt.Sprintf("%d", value)), true)
}

func (p *sysPublisher) onConnect() {
	n := p.connected.Add(1)
	for {
		cur := p.maxConn.Load()
		if n <= cur || p.maxConn.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (p *sysPublisher) onDisconnect() {
	p.connected.Add(-1)
}

func (p *sysPublisher) addBytesIn(n int)  { p.bytesIn.Add(int64(n)) }
func (p *sysPublisher) addBytesOut(n int) { p.bytesOut.Add(int64(n)) }
func (p *sysPublisher) addMsgIn()         { p.msgsIn.Add(1) }
func (p *sysPublisher) addMsgOut()        { p.msgsOut.Add(1) }

// Metrics is a point-in-time copy of all counters, returned by snapshot
// for the admin API's /stats endpoint.
type Metrics struct {
	Uptime           time.Duration
	BytesReceived    int64
	BytesSent        int64
	MessagesReceived int64
	MessagesSent     int64
	ClientsConnected int64
	ClientsMaximum   int64
}

func (p *sysPublisher) snapshot() Metrics {
	return Metrics{
		Uptime:           time.Since(p.startTime),
		BytesReceived:    p.bytesIn.Load(),
		BytesSent:        p.bytesOut.Load(),
		MessagesReceived: p.msgsIn.Load(),
		MessagesSent:     p.msgsOut.Load(),
		ClientsConnected: p.connected.Load(),
		ClientsMaximum:   p.maxConn.Load(),
	}
}
