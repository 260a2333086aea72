package tmux

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbharthur/agentboard/internal/apperr"
	"github.com/tbharthur/agentboard/pkg/executil"
)

// hasSessionFailingExecutor records like RecordingExecutor but fails only
// `has-session`, so the follow-up new-session succeeds.
type hasSessionFailingExecutor struct{ *executil.RecordingExecutor }

func (e hasSessionFailingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	out, err := e.RecordingExecutor.Run(ctx, cmd, args...)
	if len(args) > 0 && args[0] == "has-session" {
		return nil, errors.New("no such session")
	}
	return out, err
}

func TestEnsureSession_CreatesWhenMissing(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(hasSessionFailingExecutor{exec}, Config{ManagedSessionName: "agentboard"})
	require.NoError(t, d.EnsureSession(context.Background()))

	require.Len(t, exec.Commands, 2)
	assert.Equal(t, []string{"has-session", "-t", "agentboard"}, exec.Commands[0].Args)
	assert.Equal(t, []string{"new-session", "-d", "-s", "agentboard"}, exec.Commands[1].Args)
}

func TestEnsureSession_NoopWhenPresent(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(exec, Config{ManagedSessionName: "agentboard"})
	require.NoError(t, d.EnsureSession(context.Background()))
	require.Len(t, exec.Commands, 1)
}

func TestListWindows_ParsesAndFilters(t *testing.T) {
	out := "agentboard|@1|alpha|/a|100|90|claude|80|24\n" +
		"other-session|@2|beta|/b|100|90|bash|80|24\n" +
		"agentboard-ws-proxy|@3|ws|/c|100|90|bash|80|24\n"
	exec := &executil.RecordingExecutor{Outputs: map[string][]byte{"tmux": []byte(out)}}
	d := New(exec, Config{ManagedSessionName: "agentboard"})

	windows, err := d.ListWindows(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, "agentboard:@1", windows[0].Target())
	assert.Equal(t, "alpha", windows[0].WindowName)
	assert.Equal(t, 80, windows[0].PaneWidth)
}

func TestListWindows_IncludesDiscoverSessions(t *testing.T) {
	out := "agentboard|@1|alpha|/a|100|90|claude|80|24\n" +
		"team-proj|@2|beta|/b|100|90|bash|80|24\n"
	exec := &executil.RecordingExecutor{Outputs: map[string][]byte{"tmux": []byte(out)}}
	d := New(exec, Config{ManagedSessionName: "agentboard", DiscoverSessions: []string{"team-"}})

	windows, err := d.ListWindows(context.Background())
	require.NoError(t, err)
	assert.Len(t, windows, 2)
}

func TestListWindows_DefensiveShortLine(t *testing.T) {
	out := "agentboard|@1|alpha\n"
	exec := &executil.RecordingExecutor{Outputs: map[string][]byte{"tmux": []byte(out)}}
	d := New(exec, Config{ManagedSessionName: "agentboard"})

	windows, err := d.ListWindows(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, "", windows[0].PaneCwd)
	assert.Equal(t, 0, windows[0].PaneWidth)
}

func TestCreateWindow_PathMissing(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(exec, Config{ManagedSessionName: "agentboard", BaseWindowIndex: 1})
	_, err := d.CreateWindow(context.Background(), CreateWindowOpts{ProjectPath: "/does/not/exist", Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrPathMissing)
}

func TestCreateWindow_NoNameNoCommandNoRandom(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(exec, Config{ManagedSessionName: "agentboard", BaseWindowIndex: 1})
	_, err := d.CreateWindow(context.Background(), CreateWindowOpts{ProjectPath: t.TempDir()})
	assert.ErrorIs(t, err, apperr.ErrCmdRequired)
}

func TestCreateWindow_UniqueNameAndIndex(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(exec, Config{ManagedSessionName: "agentboard", BaseWindowIndex: 1})
	w, err := d.CreateWindow(context.Background(), CreateWindowOpts{
		ProjectPath:   t.TempDir(),
		Name:          "work",
		ExistingNames: []string{"work"},
		UsedIndices:   []int{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "work-2", w.WindowName)
	assert.Equal(t, "@3", w.WindowID)
}

func TestRenameWindow_RejectsCollision(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(exec, Config{ManagedSessionName: "agentboard"})
	err := d.RenameWindow(context.Background(), "agentboard:@1", "taken", []string{"taken"})
	ce, ok := apperr.AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNameCollision, ce.Code)
}

func TestRenameWindow_RejectsInvalidName(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(exec, Config{ManagedSessionName: "agentboard"})
	err := d.RenameWindow(context.Background(), "agentboard:@1", "not valid!", nil)
	ce, ok := apperr.AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNameNotAllowed, ce.Code)
}

func TestSelectWindow_RejectsInvalidTarget(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(exec, Config{ManagedSessionName: "agentboard"})
	err := d.SelectWindow(context.Background(), "")
	ce, ok := apperr.AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInvalidTarget, ce.Code)
}

func TestSelectWindow_RunsSelectWindowCommand(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	d := New(exec, Config{ManagedSessionName: "agentboard"})
	require.NoError(t, d.SelectWindow(context.Background(), "agentboard:@2"))
	require.Len(t, exec.Commands, 1)
	assert.Equal(t, []string{"select-window", "-t", "agentboard:@2"}, exec.Commands[0].Args)
}

func TestSelectWindow_WrapsTmuxFailure(t *testing.T) {
	exec := &executil.RecordingExecutor{Errors: map[string]error{"tmux": errors.New("no such window")}}
	d := New(exec, Config{ManagedSessionName: "agentboard"})
	err := d.SelectWindow(context.Background(), "agentboard:@2")
	assert.ErrorIs(t, err, apperr.ErrTmux)
}

func TestCapturePane_TruncatesToLastRows(t *testing.T) {
	var out string
	for i := 0; i < 40; i++ {
		out += "line\n"
	}
	exec := &executil.RecordingExecutor{Outputs: map[string][]byte{"tmux": []byte(out)}}
	d := New(exec, Config{ManagedSessionName: "agentboard"})

	got, err := d.CapturePane(context.Background(), "agentboard:@1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(got, "\n"), 30)
}

func TestGetTerminalScrollback_ClampsLines(t *testing.T) {
	exec := &executil.RecordingExecutor{Outputs: map[string][]byte{"tmux": []byte("x\n")}}
	d := New(exec, Config{ManagedSessionName: "agentboard"})

	_, err := d.GetTerminalScrollback(context.Background(), "agentboard:@1", -5)
	require.NoError(t, err)
	require.Len(t, exec.Commands, 1)
	assert.Contains(t, exec.Commands[0].Args, "-1")
}
