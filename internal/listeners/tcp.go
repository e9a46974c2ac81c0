// Package listeners adapts accepted net.Conn values (plain TCP, TLS and
// WebSocket) into calls to broker.Broker.HandleConnection.
package listeners

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/tidemq/broker/internal/broker"
)

// TCP accepts plain or TLS connections on one address and hands each to a
// broker. The same type serves both: a nil TLSConfig means plain TCP.
type TCP struct {
	Broker    *broker.Broker
	TLSConfig *tls.Config

	listener net.Listener
	wg       sync.WaitGroup
	closed   chan struct{}
}

// Listen starts accepting connections on addr.
func (t *TCP) Listen(addr string) error {
	var l net.Listener
	var err error
	if t.TLSConfig != nil {
		l, err = tls.Listen("tcp", addr, t.TLSConfig)
	} else {
		l, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	t.listener = l
	t.closed = make(chan struct{})
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				continue
			}
		}
		t.Broker.HandleConnection(conn)
	}
}

// Addr returns the listener's bound address.
func (t *TCP) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Close stops accepting new connections.
func (t *TCP) Close() error {
	if t.listener == nil {
		return nil
	}
	close(t.closed)
	err := t.listener.Close()
	t.wg.Wait()
	return err
}
