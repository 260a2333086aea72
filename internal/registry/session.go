// Package registry holds the in-memory, observable view of currently-visible
// tmux windows (§4.7) — the authoritative Session snapshot the broker serves
// to clients.
package registry

import "time"

// Status is a window's inferred activity state (§4.4).
type Status string

const (
	StatusWorking    Status = "working"
	StatusWaiting    Status = "waiting"
	StatusPermission Status = "permission"
	StatusUnknown    Status = "unknown"
)

// Source distinguishes windows Agentboard owns from ones it merely observed.
type Source string

const (
	SourceManaged  Source = "managed"
	SourceExternal Source = "external"
)

// AgentKind mirrors agentpaths.AgentKind without importing it, keeping the
// registry package dependency-free of log-discovery internals.
type AgentKind string

const (
	AgentClaude AgentKind = "claude"
	AgentCodex  AgentKind = "codex"
)

// Session is a live multiplexer window (§3). Its ID equals the tmux target
// "session:window-id". Created and mutated only by the refresh worker
// (status/activity) and the tmux driver adapter (rename).
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TmuxWindow   string    `json:"tmuxWindow"`
	ProjectPath  string    `json:"projectPath"`
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
	AgentType    AgentKind `json:"agentType,omitempty"`
	Source       Source    `json:"source"`
	Command      string    `json:"command,omitempty"`
}

// Patch carries a partial update for UpdateSession; a nil pointer field
// leaves the corresponding Session field unmodified.
type Patch struct {
	Name         *string
	Status       *Status
	LastActivity *time.Time
	Command      *string
}

func (p Patch) apply(s Session) Session {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.LastActivity != nil {
		s.LastActivity = *p.LastActivity
	}
	if p.Command != nil {
		s.Command = *p.Command
	}
	return s
}
