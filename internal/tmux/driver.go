// Package tmux wraps every invocation of the tmux binary behind a narrow,
// validated interface (§4.3). Nothing outside this package builds a tmux
// command line.
package tmux

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/tbharthur/agentboard/internal/apperr"
	"github.com/tbharthur/agentboard/internal/validate"
	"github.com/tbharthur/agentboard/pkg/executil"
)

// Window is one row of list_windows output, defensively parsed.
type Window struct {
	SessionName    string
	WindowID       string // "@N"
	WindowName     string
	PaneCwd        string
	WindowActivity int64 // unix seconds
	WindowCreated  int64 // unix seconds
	StartCommand   string
	PaneWidth      int
	PaneHeight     int
}

// Target returns the tmux target string "session:window-id" this row refers to.
func (w Window) Target() string {
	return w.SessionName + ":" + w.WindowID
}

// primaryFormat is tried first; fallbackFormat is used if tmux rejects a
// format variable it doesn't recognize (older tmux releases lack
// pane_start_command, added in 3.2, and some builds omit window_create).
const (
	primaryFormat  = "#{session_name}|#{window_id}|#{window_name}|#{pane_current_path}|#{window_activity}|#{window_create}|#{pane_start_command}|#{pane_width}|#{pane_height}"
	fallbackFormat = "#{session_name}|#{window_id}|#{window_name}|#{pane_current_path}|#{window_activity}|#{window_activity}|#{pane_current_command}|#{pane_width}|#{pane_height}"
)

const windowFields = 9

var windowNamePattern = regexp.MustCompile(`^[\w-]+$`)

// insideTmux reports whether the current process is itself running inside a
// tmux client; kept as a package var so tests can override it.
var insideTmux = func() bool {
	return strings.TrimSpace(os.Getenv("TMUX")) != ""
}

// Driver is the sole caller of the tmux binary. All public methods validate
// their target/name arguments before shelling out.
type Driver struct {
	exec          executil.Executor
	managedName   string   // session name Agentboard owns and creates windows in
	discoverNames []string // additional session names whose windows are surfaced read-only
	baseIndex     int      // first window index create_window is allowed to use
}

// Config bundles the deployment-specific knobs a Driver needs.
type Config struct {
	ManagedSessionName string
	DiscoverSessions   []string
	BaseWindowIndex    int
}

// New constructs a Driver bound to exec for subprocess execution.
func New(exec executil.Executor, cfg Config) *Driver {
	return &Driver{
		exec:          exec,
		managedName:   cfg.ManagedSessionName,
		discoverNames: cfg.DiscoverSessions,
		baseIndex:     cfg.BaseWindowIndex,
	}
}

// EnsureSession creates the managed session if it does not already exist.
// Idempotent: a pre-existing session is left untouched.
func (d *Driver) EnsureSession(ctx context.Context) error {
	if _, err := d.exec.Run(ctx, "tmux", "has-session", "-t", d.managedName); err == nil {
		return nil
	}
	if _, err := d.exec.Run(ctx, "tmux", "new-session", "-d", "-s", d.managedName); err != nil {
		return fmt.Errorf("%w: new-session: %v", apperr.ErrTmux, err)
	}
	return nil
}

// ListWindows lists every window of the managed session plus any session
// whose name starts with a configured discover prefix; windows of all other
// sessions, and of `<managed>-ws-` sessions, are dropped. Rows carry no
// managed/external tag; callers compare SessionName to tell them apart.
func (d *Driver) ListWindows(ctx context.Context) ([]Window, error) {
	out, err := d.exec.Run(ctx, "tmux", "list-windows", "-a", "-F", primaryFormat)
	if err != nil && looksLikeUnknownVariable(err) {
		out, err = d.exec.Run(ctx, "tmux", "list-windows", "-a", "-F", fallbackFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list-windows: %v", apperr.ErrTmux, err)
	}

	var windows []Window
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		w, ok := parseWindowLine(line)
		if !ok {
			continue
		}
		if !d.isRelevantSession(w.SessionName) {
			continue
		}
		if strings.HasPrefix(w.SessionName, d.managedName+"-ws-") {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// isRelevantSession reports whether name is the managed session or one of
// the configured discover-prefixes.
func (d *Driver) isRelevantSession(name string) bool {
	if name == d.managedName {
		return true
	}
	for _, prefix := range d.discoverNames {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func looksLikeUnknownVariable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown") && (strings.Contains(msg, "variable") || strings.Contains(msg, "format"))
}

// parseWindowLine defensively splits a "|"-delimited list-windows row. Short
// lines (tmux emitting fewer fields than requested, e.g. a race with the
// window being closed mid-listing) yield zero-valued trailing fields rather
// than an error.
func parseWindowLine(line string) (Window, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 3 {
		return Window{}, false
	}
	for len(parts) < windowFields {
		parts = append(parts, "")
	}

	w := Window{
		SessionName:  parts[0],
		WindowID:     parts[1],
		WindowName:   parts[2],
		PaneCwd:      parts[3],
		StartCommand: parts[6],
	}
	w.WindowActivity, _ = strconv.ParseInt(parts[4], 10, 64)
	w.WindowCreated, _ = strconv.ParseInt(parts[5], 10, 64)
	w.PaneWidth, _ = strconv.Atoi(parts[7])
	w.PaneHeight, _ = strconv.Atoi(parts[8])
	if w.SessionName == "" || w.WindowID == "" {
		return Window{}, false
	}
	return w, true
}

// CreateWindowOpts parameterizes CreateWindow.
type CreateWindowOpts struct {
	ProjectPath   string
	Name          string // user-supplied display name, whitespace will be collapsed
	Command       string
	AllowRandom   bool     // permit drawing a name from the adjective-noun vocabulary
	ExistingNames []string // current managed window names, for uniqueness
	UsedIndices   []int    // current managed window indices, for index selection
}

// CreateWindow resolves projectPath, picks a unique display name and a free
// window index, and runs new-window.
func (d *Driver) CreateWindow(ctx context.Context, opts CreateWindowOpts) (Window, error) {
	path := expandHome(opts.ProjectPath)
	if st, err := os.Stat(path); err != nil || !st.IsDir() {
		return Window{}, apperr.ErrPathMissing
	}

	name := collapseWhitespace(opts.Name)
	if name == "" {
		if opts.Command == "" && !opts.AllowRandom {
			return Window{}, apperr.ErrCmdRequired
		}
		name = randomName()
	}
	name = uniqueName(name, opts.ExistingNames)

	index := firstFreeIndex(d.baseIndex, opts.UsedIndices)
	target := fmt.Sprintf("%s:%d", d.managedName, index)

	args := []string{"new-window", "-t", target, "-n", name, "-c", path}
	if opts.Command != "" {
		args = append(args, opts.Command)
	}
	if _, err := d.exec.Run(ctx, "tmux", args...); err != nil {
		return Window{}, fmt.Errorf("%w: new-window: %v", apperr.ErrTmux, err)
	}

	return Window{
		SessionName:  d.managedName,
		WindowID:     fmt.Sprintf("@%d", index),
		WindowName:   name,
		PaneCwd:      path,
		StartCommand: opts.Command,
	}, nil
}

// RenameWindow validates newName, checks it against existingNames for
// collisions, and runs rename-window.
func (d *Driver) RenameWindow(ctx context.Context, target, newName string, existingNames []string) error {
	if !validate.IsValidTmuxTarget(target) {
		return apperr.NewClientError(apperr.CodeInvalidTarget, "invalid tmux target")
	}
	if !windowNamePattern.MatchString(newName) {
		return apperr.NewClientError(apperr.CodeNameNotAllowed, "window name must match [\\w-]+")
	}
	for _, existing := range existingNames {
		if existing == newName {
			return apperr.NewClientError(apperr.CodeNameCollision, "window name already in use")
		}
	}
	if _, err := d.exec.Run(ctx, "tmux", "rename-window", "-t", target, newName); err != nil {
		return fmt.Errorf("%w: rename-window: %v", apperr.ErrTmux, err)
	}
	return nil
}

// SelectWindow makes target the active window of its session, used by the
// terminal proxy's switch() to redirect an already-attached client (§4.11).
func (d *Driver) SelectWindow(ctx context.Context, target string) error {
	if !validate.IsValidTmuxTarget(target) {
		return apperr.NewClientError(apperr.CodeInvalidTarget, "invalid tmux target")
	}
	if _, err := d.exec.Run(ctx, "tmux", "select-window", "-t", target); err != nil {
		return fmt.Errorf("%w: select-window: %v", apperr.ErrTmux, err)
	}
	return nil
}

// KillWindow runs kill-window against target.
func (d *Driver) KillWindow(ctx context.Context, target string) error {
	if !validate.IsValidTmuxTarget(target) {
		return apperr.NewClientError(apperr.CodeInvalidTarget, "invalid tmux target")
	}
	if _, err := d.exec.Run(ctx, "tmux", "kill-window", "-t", target); err != nil {
		return fmt.Errorf("%w: kill-window: %v", apperr.ErrTmux, err)
	}
	return nil
}

// CapturePane returns the visible pane contents for target, trailing blank
// lines trimmed and truncated to the last 30 rows.
func (d *Driver) CapturePane(ctx context.Context, target string) (string, error) {
	if !validate.IsValidTmuxTarget(target) {
		return "", apperr.NewClientError(apperr.CodeInvalidTarget, "invalid tmux target")
	}
	out, err := d.exec.Run(ctx, "tmux", "capture-pane", "-t", target, "-p", "-J")
	if err != nil {
		return "", fmt.Errorf("%w: capture-pane: %v", apperr.ErrTmux, err)
	}
	return trimToLastRows(string(out), 30), nil
}

// GetTerminalScrollback returns the last `lines` rows of target's scrollback
// (lines is clamped to at least 1).
func (d *Driver) GetTerminalScrollback(ctx context.Context, target string, lines int) (string, error) {
	if !validate.IsValidTmuxTarget(target) {
		return "", apperr.NewClientError(apperr.CodeInvalidTarget, "invalid tmux target")
	}
	if lines < 1 {
		lines = 1
	}
	out, err := d.exec.Run(ctx, "tmux", "capture-pane", "-t", target, "-p", "-J", "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", fmt.Errorf("%w: capture-pane: %v", apperr.ErrTmux, err)
	}
	return trimToLastRows(string(out), lines), nil
}

func trimToLastRows(s string, maxRows int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > maxRows {
		lines = lines[len(lines)-maxRows:]
	}
	return strings.Join(lines, "\n")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func uniqueName(name string, existing []string) string {
	taken := make(map[string]bool, len(existing))
	for _, n := range existing {
		taken[n] = true
	}
	if !taken[name] {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

func firstFreeIndex(base int, used []int) int {
	taken := make(map[int]bool, len(used))
	for _, i := range used {
		taken[i] = true
	}
	for i := base; ; i++ {
		if !taken[i] {
			return i
		}
	}
}

func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
