package broker

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"
)

// AdminAPI is the read-only HTTP introspection surface (component K). It
// reads broker state through the same accessor methods a $SYS tick would
// use and never takes a broker-wide lock of its own.
type AdminAPI struct {
	broker *Broker
	server *http.Server
}

// NewAdminAPI builds an AdminAPI bound to addr. The server is not started
// until Start is called.
func NewAdminAPI(b *Broker, addr string) *AdminAPI {
	mux := http.NewServeMux()
	a := &AdminAPI{broker: b}
	mux.HandleFunc("/clients", a.handleClients)
	mux.HandleFunc("/stats", a.handleStats)
	a.server = &http.Server{Addr: addr, Handler: mux}
	return a
}

// Start begins serving in the background. ln is the already-bound listener
// so the caller controls address binding failures up front.
func (a *AdminAPI) Start(ln net.Listener) {
	go a.server.Serve(ln)
}

// Shutdown stops the HTTP server.
func (a *AdminAPI) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

type clientView struct {
	ClientID          string    `json:"client_id"`
	RemoteAddr        string    `json:"remote_addr"`
	ConnectedSince    time.Time `json:"connected_since"`
	Clean             bool      `json:"clean"`
	SubscriptionCount int       `json:"subscription_count"`
}

func (a *AdminAPI) handleClients(w http.ResponseWriter, r *http.Request) {
	snapshots := a.broker.Clients()
	views := make([]clientView, 0, len(snapshots))
	for _, s := range snapshots {
		views = append(views, clientView{
			ClientID:          s.ClientID,
			RemoteAddr:        s.RemoteAddr,
			ConnectedSince:    s.ConnectedAt,
			Clean:             s.Clean,
			SubscriptionCount: s.SubscriptionCount,
		})
	}
	writeJSON(w, views)
}

type statsView struct {
	UptimeSeconds    int64 `json:"uptime_seconds"`
	BytesReceived    int64 `json:"bytes_received"`
	BytesSent        int64 `json:"bytes_sent"`
	MessagesReceived int64 `json:"messages_received"`
	MessagesSent     int64 `json:"messages_sent"`
	ClientsConnected int64 `json:"clients_connected"`
	ClientsMaximum   int64 `json:"clients_maximum"`
}

func (a *AdminAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	m := a.broker.Stats()
	writeJSON(w, statsView{
		UptimeSeconds:    int64(m.Uptime.Seconds()),
		BytesReceived:    m.BytesReceived,
		BytesSent:        m.BytesSent,
		MessagesReceived: m.MessagesReceived,
		MessagesSent:     m.MessagesSent,
		ClientsConnected: m.ClientsConnected,
		ClientsMaximum:   m.ClientsMaximum,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
