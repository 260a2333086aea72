// Package broker implements the connection broker (§4.12): a single
// WebSocket endpoint serving multiple concurrent clients, each with its own
// registry subscription and its own per-connection terminal proxy.
//
// Grounded on my-take-dev-myT-x/myT-x's internal/wsserver/hub.go for the
// gorilla/websocket keepalive discipline (write-deadline-guarded writes, a
// ping loop, a read-deadline refreshed by pongs, panic recovery per
// connection), generalized from that reference's single shared connection to
// one independent goroutine and state record per connection, since
// Agentboard serves several dashboards at once rather than one desktop
// WebView.
package broker

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbharthur/agentboard/internal/logging"
	"github.com/tbharthur/agentboard/internal/refreshworker"
	"github.com/tbharthur/agentboard/internal/registry"
	"github.com/tbharthur/agentboard/internal/store"
	"github.com/tbharthur/agentboard/internal/tmux"
)

const (
	writeDeadline  = 5 * time.Second
	readDeadline   = 90 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 32 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
}

// Broker owns the shared dependencies every connection reads from: the
// registry, the session store, the tmux driver, and a handle onto the
// refresh worker for forced ticks (session-refresh).
type Broker struct {
	reg            *registry.Registry
	sessions       *store.Store
	driver         *tmux.Driver
	refresh        *refreshworker.Worker
	managedSession string

	newProxy proxyFactory
}

// New constructs a Broker. refresh may be nil in tests that don't exercise
// session-refresh.
func New(reg *registry.Registry, sessions *store.Store, driver *tmux.Driver, refresh *refreshworker.Worker, managedSession string) *Broker {
	return &Broker{
		reg:            reg,
		sessions:       sessions,
		driver:         driver,
		refresh:        refresh,
		managedSession: managedSession,
		newProxy:       defaultProxyFactory(driver),
	}
}

// Healthz answers GET /healthz for liveness probes (§6).
func (b *Broker) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ServeWS upgrades GET /ws and runs the connection until it closes.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Component("broker").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newConnection(b, conn)
	c.run()
}

// writeJSON marshals v and writes it as a single text frame, serialized
// against writeMu (gorilla/websocket forbids concurrent writers) and guarded
// by a write deadline so a stalled peer can't block the connection forever.
func writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	err = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.SetWriteDeadline(time.Time{})
	return err
}
