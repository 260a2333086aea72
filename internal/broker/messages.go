package broker

import "github.com/tbharthur/agentboard/internal/registry"

// inboundMessage is decoded once per frame; Type selects the handler, which
// reads only the fields its message type uses (§4.12 step 3, §6 wire protocol).
type inboundMessage struct {
	Type string `json:"type"`

	SessionID   string `json:"sessionId"`
	Cols        int    `json:"cols"`
	Rows        int    `json:"rows"`
	Data        string `json:"data"`
	ProjectPath string `json:"projectPath"`
	Name        string `json:"name"`
	Command     string `json:"command"`
	NewName     string `json:"newName"`
	IsPinned    bool   `json:"isPinned"`
}

const (
	typeTerminalAttach = "terminal-attach"
	typeTerminalDetach = "terminal-detach"
	typeTerminalInput  = "terminal-input"
	typeTerminalResize = "terminal-resize"
	typeSessionCreate  = "session-create"
	typeSessionKill    = "session-kill"
	typeSessionRename  = "session-rename"
	typeSessionPin     = "session-pin"
	typeSessionRefresh = "session-refresh"
)

// outbound message shapes, one type per server->client variant (§6).
type sessionsMsg struct {
	Type     string             `json:"type"`
	Sessions []registry.Session `json:"sessions"`
}

type sessionUpdateMsg struct {
	Type    string           `json:"type"`
	Session registry.Session `json:"session"`
}

type sessionCreatedMsg struct {
	Type    string           `json:"type"`
	Session registry.Session `json:"session"`
}

type sessionRemovedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type terminalReadyMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type terminalOutputMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type sessionPinResultMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	OK        bool   `json:"ok"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newSessionsMsg(sessions []registry.Session) sessionsMsg {
	if sessions == nil {
		sessions = []registry.Session{}
	}
	return sessionsMsg{Type: "sessions", Sessions: sessions}
}
