package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbharthur/agentboard/internal/apperr"
	"github.com/tbharthur/agentboard/internal/logging"
	"github.com/tbharthur/agentboard/internal/proxy"
	"github.com/tbharthur/agentboard/internal/registry"
	"github.com/tbharthur/agentboard/internal/store"
	"github.com/tbharthur/agentboard/internal/tmux"
	"github.com/tbharthur/agentboard/internal/validate"
)

// connection is one client's owned state (§5: "per-connection mutable state
// on a web socket becomes an owned record guarded by the broker's connection
// task; no field is touched off-task"). Only the connection's own goroutines
// (readPump, eventPump, pingLoop) touch these fields; proxyMu guards the two
// that the proxy's own read-loop goroutine also reads (activeProxy via
// onData/onExit closures).
type connection struct {
	broker *Broker
	conn   *websocket.Conn
	id     uuid.UUID
	log    zerolog.Logger

	writeMu sync.Mutex

	subID  int
	events <-chan registry.Event

	proxyMu         sync.Mutex
	activeProxy     proxy.Proxy
	activeSessionID string

	malformedLogged sync.Once
}

func newConnection(b *Broker, conn *websocket.Conn) *connection {
	id := uuid.New()
	return &connection{
		broker: b,
		conn:   conn,
		id:     id,
		log:    logging.Component("broker").With().Str("conn", id.String()).Logger(),
	}
}

// run drives the connection until it closes: a subscriber goroutine
// forwarding registry events, a ping goroutine, and the blocking read pump
// on this goroutine. All three stop when done is closed.
func (c *connection) run() {
	done := make(chan struct{})
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("connection handler recovered")
		}
		close(done)
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c.subID, c.events = c.broker.reg.Subscribe()
	c.send(newSessionsMsg(c.broker.reg.GetAll()))

	go c.eventPump(done)
	go c.pingLoop(done)

	c.log.Info().Msg("client connected")
	c.readPump()
}

func (c *connection) cleanup() {
	c.proxyMu.Lock()
	p := c.activeProxy
	c.activeProxy = nil
	c.activeSessionID = ""
	c.proxyMu.Unlock()
	if p != nil {
		_ = p.Dispose()
	}

	c.broker.reg.Unsubscribe(c.subID)
	_ = c.conn.Close()
	c.log.Info().Msg("client disconnected")
}

func (c *connection) readPump() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.malformedLogged.Do(func() {
				c.log.Warn().Err(err).Msg("malformed JSON from client")
			})
			c.sendError(err)
			continue
		}

		c.dispatch(context.Background(), msg)
	}
}

func (c *connection) eventPump(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			c.forwardEvent(ev)
		}
	}
}

func (c *connection) forwardEvent(ev registry.Event) {
	switch e := ev.(type) {
	case registry.SessionsEvent:
		c.send(newSessionsMsg(e.Sessions))
	case registry.SessionUpdateEvent:
		c.send(sessionUpdateMsg{Type: "session-update", Session: e.Session})
	case registry.SessionCreatedEvent:
		c.send(sessionCreatedMsg{Type: "session-created", Session: e.Session})
	case registry.SessionRemovedEvent:
		c.send(sessionRemovedMsg{Type: "session-removed", SessionID: e.ID})
	case registry.LogPollSummaryEvent:
		// internal-only; §6's wire protocol has no client-facing shape for it.
	}
}

func (c *connection) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			_ = c.conn.SetWriteDeadline(time.Time{})
			c.writeMu.Unlock()
			if err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *connection) send(v any) {
	if err := writeJSON(c.conn, &c.writeMu, v); err != nil {
		c.log.Debug().Err(err).Msg("write failed, closing connection")
		_ = c.conn.Close()
	}
}

func (c *connection) sendError(err error) {
	c.send(errorMsg{Type: "error", Message: err.Error()})
}

// dispatch routes one decoded inbound message by type (§4.12 step 3).
// Unknown types are logged and dropped, matching §4.12's explicit policy.
func (c *connection) dispatch(ctx context.Context, msg inboundMessage) {
	switch msg.Type {
	case typeTerminalAttach:
		c.handleTerminalAttach(ctx, msg)
	case typeTerminalDetach:
		c.handleTerminalDetach(msg)
	case typeTerminalInput:
		c.handleTerminalInput(msg)
	case typeTerminalResize:
		c.handleTerminalResize(msg)
	case typeSessionCreate:
		c.handleSessionCreate(ctx, msg)
	case typeSessionKill:
		c.handleSessionKill(ctx, msg)
	case typeSessionRename:
		c.handleSessionRename(ctx, msg)
	case typeSessionPin:
		c.handleSessionPin(ctx, msg)
	case typeSessionRefresh:
		c.handleSessionRefresh(ctx)
	default:
		c.log.Debug().Str("type", msg.Type).Msg("unknown message type, dropped")
	}
}

func (c *connection) handleTerminalAttach(ctx context.Context, msg inboundMessage) {
	if !validate.IsValidSessionID(msg.SessionID) {
		c.sendError(apperr.NewClientError(apperr.CodeInvalidSessionID, "invalid session id"))
		return
	}

	c.disposeActiveProxy()

	cols, rows := msg.Cols, msg.Rows
	if cols <= 0 {
		cols = proxy.DefaultCols
	}
	if rows <= 0 {
		rows = proxy.DefaultRows
	}

	sessionID := msg.SessionID
	ready := make(chan struct{})
	onData := func(data []byte) {
		<-ready
		c.send(terminalOutputMsg{Type: "terminal-output", SessionID: sessionID, Data: string(data)})
	}
	onExit := func(err error) { c.handleProxyExit(sessionID) }

	p := c.broker.newProxy(sessionID, onData, onExit)
	if err := p.Start(ctx); err != nil {
		close(ready)
		c.sendError(err)
		return
	}
	_ = p.Resize(cols, rows)

	c.proxyMu.Lock()
	c.activeProxy = p
	c.activeSessionID = sessionID
	c.proxyMu.Unlock()

	c.send(terminalReadyMsg{Type: "terminal-ready", SessionID: sessionID})
	close(ready)
}

func (c *connection) handleProxyExit(sessionID string) {
	c.proxyMu.Lock()
	defer c.proxyMu.Unlock()
	if c.activeSessionID == sessionID {
		c.activeProxy = nil
		c.activeSessionID = ""
	}
}

func (c *connection) disposeActiveProxy() {
	c.proxyMu.Lock()
	p := c.activeProxy
	c.activeProxy = nil
	c.activeSessionID = ""
	c.proxyMu.Unlock()
	if p != nil {
		_ = p.Dispose()
	}
}

func (c *connection) handleTerminalDetach(msg inboundMessage) {
	c.proxyMu.Lock()
	if c.activeProxy == nil || c.activeSessionID != msg.SessionID {
		c.proxyMu.Unlock()
		return
	}
	p := c.activeProxy
	c.activeProxy = nil
	c.activeSessionID = ""
	c.proxyMu.Unlock()
	_ = p.Dispose()
}

func (c *connection) handleTerminalInput(msg inboundMessage) {
	p, sid := c.snapshotProxy()
	if p == nil || sid != msg.SessionID {
		return
	}
	_ = p.Write([]byte(msg.Data))
}

func (c *connection) handleTerminalResize(msg inboundMessage) {
	p, sid := c.snapshotProxy()
	if p == nil || sid != msg.SessionID {
		return
	}
	_ = p.Resize(msg.Cols, msg.Rows)
}

func (c *connection) snapshotProxy() (proxy.Proxy, string) {
	c.proxyMu.Lock()
	defer c.proxyMu.Unlock()
	return c.activeProxy, c.activeSessionID
}

func (c *connection) handleSessionCreate(ctx context.Context, msg inboundMessage) {
	existingNames, usedIndices := c.managedWindowState("")

	w, err := c.broker.driver.CreateWindow(ctx, tmux.CreateWindowOpts{
		ProjectPath:   msg.ProjectPath,
		Name:          msg.Name,
		Command:       msg.Command,
		AllowRandom:   true,
		ExistingNames: existingNames,
		UsedIndices:   usedIndices,
	})
	if err != nil {
		c.sendError(err)
		return
	}

	now := time.Now()
	session := registry.Session{
		ID:           w.SessionName + ":" + w.WindowID,
		Name:         w.WindowName,
		TmuxWindow:   w.WindowID,
		ProjectPath:  w.PaneCwd,
		Status:       registry.StatusUnknown,
		LastActivity: now,
		CreatedAt:    now,
		Source:       registry.SourceManaged,
		Command:      w.StartCommand,
	}
	c.broker.reg.Publish(registry.SessionCreatedEvent{Session: session})
}

func (c *connection) handleSessionKill(ctx context.Context, msg inboundMessage) {
	if !validate.IsValidSessionID(msg.SessionID) {
		c.sendError(apperr.NewClientError(apperr.CodeInvalidSessionID, "invalid session id"))
		return
	}
	if err := c.broker.driver.KillWindow(ctx, msg.SessionID); err != nil {
		c.sendError(err)
	}
}

func (c *connection) handleSessionRename(ctx context.Context, msg inboundMessage) {
	if !validate.IsValidSessionID(msg.SessionID) {
		c.sendError(apperr.NewClientError(apperr.CodeInvalidSessionID, "invalid session id"))
		return
	}
	existingNames, _ := c.managedWindowState(msg.SessionID)

	if err := c.broker.driver.RenameWindow(ctx, msg.SessionID, msg.NewName, existingNames); err != nil {
		c.sendError(err)
		return
	}
	name := msg.NewName
	c.broker.reg.UpdateSession(msg.SessionID, registry.Patch{Name: &name})
}

func (c *connection) handleSessionPin(ctx context.Context, msg inboundMessage) {
	result := sessionPinResultMsg{Type: "session-pin-result", SessionID: msg.SessionID}
	if c.broker.sessions == nil {
		c.send(result)
		return
	}

	row, err := c.broker.sessions.GetSessionByWindow(ctx, msg.SessionID)
	if err != nil {
		c.send(result)
		return
	}

	pinned := msg.IsPinned
	if err := c.broker.sessions.UpdateSession(ctx, row.ID, store.Patch{IsPinned: &pinned}); err != nil {
		c.send(result)
		return
	}
	result.OK = true
	c.send(result)
}

func (c *connection) handleSessionRefresh(ctx context.Context) {
	if c.broker.refresh == nil {
		return
	}
	if err := c.broker.refresh.Tick(ctx); err != nil {
		c.log.Warn().Err(err).Msg("forced refresh tick failed")
	}
}

// managedWindowState collects the display names and tmux window indices of
// every currently-registered managed session, excluding excludeID (used by
// rename to avoid a window colliding with its own current name).
func (c *connection) managedWindowState(excludeID string) (names []string, indices []int) {
	for _, s := range c.broker.reg.GetAll() {
		if s.Source != registry.SourceManaged || s.ID == excludeID {
			continue
		}
		names = append(names, s.Name)
		if idx, ok := parseWindowIndex(s.TmuxWindow); ok {
			indices = append(indices, idx)
		}
	}
	return names, indices
}

// parseWindowIndex extracts the numeric part of a tmux window ID ("@3" -> 3).
func parseWindowIndex(windowID string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(windowID, "@"))
	if err != nil {
		return 0, false
	}
	return n, true
}
