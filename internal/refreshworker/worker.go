// Package refreshworker periodically lists live tmux windows, infers each
// one's activity status, and republishes the session registry (§4.9).
package refreshworker

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tbharthur/agentboard/internal/logging"
	"github.com/tbharthur/agentboard/internal/matcher"
	"github.com/tbharthur/agentboard/internal/registry"
	"github.com/tbharthur/agentboard/internal/status"
	"github.com/tbharthur/agentboard/internal/store"
	"github.com/tbharthur/agentboard/internal/tmux"
)

// MinInterval is the smallest tick period the worker honors regardless of
// configuration (§4.9).
const MinInterval = 2 * time.Second

// ScrollbackLines bounds the capture used for last-user-message retrieval.
const ScrollbackLines = 200

// Config bundles the deployment-specific knobs the worker needs.
type Config struct {
	Interval            time.Duration
	WorkingGrace        time.Duration
	ManagedSessionName  string
	ClaudeResumeCmdTmpl string
	CodexResumeCmdTmpl  string
}

// Driver is the subset of *tmux.Driver the worker depends on, narrowed for
// testability.
type Driver interface {
	ListWindows(ctx context.Context) ([]tmux.Window, error)
	CapturePane(ctx context.Context, target string) (string, error)
	GetTerminalScrollback(ctx context.Context, target string, lines int) (string, error)
	CreateWindow(ctx context.Context, opts tmux.CreateWindowOpts) (tmux.Window, error)
}

// Worker is the session refresh worker (§4.9).
type Worker struct {
	driver   Driver
	reg      *registry.Registry
	tracker  *status.Tracker
	sessions *store.Store
	cfg      Config

	resurrectOnce sync.Once
}

// New constructs a Worker. sessions may be nil if pin-driven resurrection is
// not desired (e.g. in tests exercising only the list/capture/status path).
func New(driver Driver, reg *registry.Registry, tracker *status.Tracker, sessions *store.Store, cfg Config) *Worker {
	if cfg.Interval < MinInterval {
		cfg.Interval = MinInterval
	}
	if cfg.WorkingGrace <= 0 {
		cfg.WorkingGrace = 5 * time.Second
	}
	return &Worker{driver: driver, reg: reg, tracker: tracker, sessions: sessions, cfg: cfg}
}

// Run blocks, ticking every cfg.Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				logging.Component("refreshworker").Error().Err(err).Msg("refresh tick failed")
			}
		}
	}
}

// Tick performs one full list/capture/status/replace cycle, then — on the
// very first call only — resurrects pinned orphaned sessions.
func (w *Worker) Tick(ctx context.Context) error {
	windows, err := w.driver.ListWindows(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	sessions := make([]registry.Session, 0, len(windows))
	live := make(map[string]struct{}, len(windows))

	for _, win := range windows {
		target := win.Target()
		live[target] = struct{}{}

		content, err := w.driver.CapturePane(ctx, target)
		if err != nil {
			logging.Component("refreshworker").Debug().Err(err).Str("target", target).Msg("capture-pane failed")
			continue
		}

		normalized := status.NormalizeContent(status.StripANSI(content))
		st, lastChanged := w.tracker.Update(target, normalized, win.PaneWidth, win.PaneHeight, now, w.cfg.WorkingGrace)

		sessions = append(sessions, w.buildSession(ctx, win, target, st, lastChanged))
	}

	w.reg.ReplaceSessions(sessions)
	w.tracker.Evict(live)

	w.resurrectOnce.Do(func() {
		if w.sessions == nil {
			return
		}
		w.resurrectPinned(ctx, windows)
	})

	return nil
}

func (w *Worker) buildSession(ctx context.Context, win tmux.Window, target string, st registry.Status, lastChanged time.Time) registry.Session {
	managed := win.SessionName == w.cfg.ManagedSessionName

	name := win.SessionName
	if managed {
		name = win.WindowName
	}

	source := registry.SourceExternal
	if managed {
		source = registry.SourceManaged
	}

	projectPath := win.PaneCwd
	if resolved, err := filepath.EvalSymlinks(projectPath); err == nil && resolved != "" {
		projectPath = resolved
	}

	activity := time.Unix(win.WindowActivity, 0)
	if !lastChanged.IsZero() {
		activity = lastChanged
	}

	sess := registry.Session{
		ID:           target,
		Name:         name,
		TmuxWindow:   win.WindowID,
		ProjectPath:  projectPath,
		Status:       st,
		LastActivity: activity,
		CreatedAt:    time.Unix(win.WindowCreated, 0),
		Source:       source,
		Command:      win.StartCommand,
	}

	if w.sessions != nil {
		if row, err := w.sessions.GetSessionByWindow(ctx, target); err == nil {
			sess.AgentType = registry.AgentKind(row.AgentType)
		}
	}

	return sess
}

// GetLastUserMessage returns the most recently submitted user prompt found
// in target's scrollback, or ("", false, nil) if none is found.
func (w *Worker) GetLastUserMessage(ctx context.Context, target string) (string, bool, error) {
	scrollback, err := w.driver.GetTerminalScrollback(ctx, target, ScrollbackLines)
	if err != nil {
		return "", false, err
	}
	prompts := matcher.ExtractPrompts(scrollback)
	if len(prompts) == 0 {
		return "", false, nil
	}
	return prompts[0], true, nil
}

// resurrectPinned implements §2.3's pin-driven auto-resurrection: every
// pinned AgentSession with no current window is revived in the managed
// session using the resume-command template for its agent kind.
func (w *Worker) resurrectPinned(ctx context.Context, managedWindows []tmux.Window) {
	inactive, err := w.sessions.GetInactiveSessions(ctx)
	if err != nil {
		logging.Component("refreshworker").Error().Err(err).Msg("listing inactive sessions for resurrection")
		return
	}

	var existingNames []string
	var usedIndices []int
	for _, win := range managedWindows {
		if win.SessionName != w.cfg.ManagedSessionName {
			continue
		}
		existingNames = append(existingNames, win.WindowName)
		if idx, err := strconv.Atoi(strings.TrimPrefix(win.WindowID, "@")); err == nil {
			usedIndices = append(usedIndices, idx)
		}
	}

	for _, row := range inactive {
		if !row.IsPinned {
			continue
		}
		w.resurrectOne(ctx, row, existingNames, usedIndices)
	}
}

func (w *Worker) resurrectOne(ctx context.Context, row store.Row, existingNames []string, usedIndices []int) {
	tmpl := w.cfg.ClaudeResumeCmdTmpl
	if row.AgentType == "codex" {
		tmpl = w.cfg.CodexResumeCmdTmpl
	}
	if tmpl == "" {
		return
	}
	cmd := strings.ReplaceAll(tmpl, "{sessionId}", row.SessionID)

	_, err := w.driver.CreateWindow(ctx, tmux.CreateWindowOpts{
		ProjectPath:   row.ProjectPath,
		Name:          row.DisplayName,
		Command:       cmd,
		AllowRandom:   true,
		ExistingNames: existingNames,
		UsedIndices:   usedIndices,
	})

	resumeErr := ""
	if err != nil {
		resumeErr = err.Error()
		logging.Component("refreshworker").Warn().Err(err).Str("session_id", row.SessionID).Msg("pinned session resurrection failed")
	}
	if patchErr := w.sessions.UpdateSession(ctx, row.ID, store.Patch{LastResumeError: &resumeErr}); patchErr != nil {
		logging.Component("refreshworker").Error().Err(patchErr).Str("session_id", row.SessionID).Msg("recording resume result failed")
	}
}
