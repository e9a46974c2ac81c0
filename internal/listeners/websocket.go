package listeners

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidemq/broker/internal/broker"
)

// WebSocket accepts MQTT-over-WebSocket connections (binary frames,
// subprotocol "mqtt") and hands each to a broker via the wsConn net.Conn
// adapter.
type WebSocket struct {
	Broker    *broker.Broker
	Path      string
	TLSConfig *tls.Config

	server   *http.Server
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
	closed   chan struct{}
}

// Listen starts an HTTP server on addr serving the WebSocket endpoint at
// Path ("/mqtt" if empty).
func (w *WebSocket) Listen(addr string) error {
	path := w.Path
	if path == "" {
		path = "/mqtt"
	}

	w.upgrader = websocket.Upgrader{
		Subprotocols: []string{"mqtt"},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	w.closed = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(path, w.handle)

	w.server = &http.Server{Addr: addr, Handler: mux, TLSConfig: w.TLSConfig}

	var ln net.Listener
	var err error
	if w.TLSConfig != nil {
		ln, err = tls.Listen("tcp", addr, w.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.server.Serve(ln)
	}()
	return nil
}

func (w *WebSocket) handle(rw http.ResponseWriter, r *http.Request) {
	select {
	case <-w.closed:
		http.Error(rw, "server closing", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}

	w.Broker.HandleConnection(&wsConn{Conn: ws, remoteAddr: r.RemoteAddr})
}

// Close shuts down the HTTP server.
func (w *WebSocket) Close() error {
	if w.server == nil {
		return nil
	}
	close(w.closed)
	err := w.server.Close()
	w.wg.Wait()
	return err
}

// wsConn adapts a *websocket.Conn restricted to binary frames into a
// net.Conn, the shape broker.Broker.HandleConnection expects.
type wsConn struct {
	*websocket.Conn
	reader     io.Reader
	remoteAddr string
	mu         sync.Mutex
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.reader == nil {
			messageType, r, err := c.Conn.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) RemoteAddr() net.Addr { return &wsAddr{addr: c.remoteAddr} }
func (c *wsConn) LocalAddr() net.Addr  { return c.Conn.LocalAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.Conn.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.Conn.SetWriteDeadline(t) }

type wsAddr struct{ addr string }

func (a *wsAddr) Network() string { return "websocket" }
func (a *wsAddr) String() string  { return a.addr }
