package pollworker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbharthur/agentboard/internal/matcher"
	"github.com/tbharthur/agentboard/internal/registry"
	"github.com/tbharthur/agentboard/internal/store"
)

// fakeRg mirrors the matcher package's own test double: just enough of
// ripgrep's CLI surface to drive Match deterministically against real files.
type fakeRg struct{}

func (fakeRg) Run(_ context.Context, cmd string, args ...string) ([]byte, error) {
	if cmd != "rg" {
		return nil, fmt.Errorf("unexpected command %q", cmd)
	}
	jsonMode := args[0] == "--json"
	rest := args
	if jsonMode {
		rest = args[1:]
	}
	pattern := rest[1]
	paths := rest[2:]
	if len(paths) > 0 && paths[0] == "--glob" {
		paths = paths[2:]
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	if jsonMode {
		content, err := os.ReadFile(paths[0])
		if err != nil {
			return nil, err
		}
		var out strings.Builder
		for i, line := range strings.Split(string(content), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&out, `{"type":"match","data":{"line_number":%d,"lines":{"text":%q}}}`+"\n", i+1, line)
			}
		}
		if out.Len() == 0 {
			return nil, fmt.Errorf("no matches")
		}
		return []byte(out.String()), nil
	}

	var matched []string
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if re.MatchString(string(content)) {
			matched = append(matched, path)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no matches")
	}
	return []byte(strings.Join(matched, "\n") + "\n"), nil
}

func (fakeRg) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
func (fakeRg) RunStream(ctx context.Context, stdout, stderr io.Writer, cmd string, args ...string) error {
	return fmt.Errorf("not implemented")
}
func (fakeRg) RunDirStream(ctx context.Context, dir string, stdout, stderr io.Writer, cmd string, args ...string) error {
	return fmt.Errorf("not implemented")
}

type fakePollDriver struct {
	scrollback map[string]string
}

func (f *fakePollDriver) GetTerminalScrollback(ctx context.Context, target string, lines int) (string, error) {
	return f.scrollback[target], nil
}

func newTestStoreForPoll(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(t.TempDir(), store.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.New(db)
}

func writeLog(t *testing.T, dir, name, sessionID, cwd string, userLines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var b strings.Builder
	fmt.Fprintf(&b, `{"type":"user","sessionId":%q,"cwd":%q,"message":{"role":"user","content":[{"type":"text","text":"init"}]}}`+"\n", sessionID, cwd)
	for _, l := range userLines {
		fmt.Fprintf(&b, `{"type":"user","message":{"role":"user","content":[{"type":"text","text":%q}]}}`+"\n", l)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestTick_InsertsNewSessionBelowThresholdIntoEmptyCacheOnly(t *testing.T) {
	sess := newTestStoreForPoll(t)
	reg := registry.New()
	m := matcher.New(fakeRg{}, nil)
	driver := &fakePollDriver{}

	w := New(driver, reg, sess, m, Config{Interval: time.Second})

	// Below the insertion threshold: not enough words, never matched.
	claudeDir := t.TempDir()
	t.Setenv("CLAUDE_CONFIG_DIR", claudeDir)
	t.Setenv("CODEX_HOME", t.TempDir())
	writeLog(t, claudeDir, "tiny.jsonl", "sess-tiny", "/proj/tiny")

	require.NoError(t, w.Tick(context.Background()))

	_, err := sess.GetSessionByID(context.Background(), "sess-tiny")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTick_InsertsNewSessionAboveThresholdAsOrphanWhenUnmatched(t *testing.T) {
	sess := newTestStoreForPoll(t)
	reg := registry.New()
	m := matcher.New(fakeRg{}, nil)
	driver := &fakePollDriver{}

	w := New(driver, reg, sess, m, Config{Interval: time.Second})

	claudeDir := t.TempDir()
	t.Setenv("CLAUDE_CONFIG_DIR", claudeDir)
	t.Setenv("CODEX_HOME", t.TempDir())

	lines := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		lines = append(lines, fmt.Sprintf("this is a reasonably long user message number %d", i))
	}
	writeLog(t, claudeDir, "real.jsonl", "sess-real", "/proj/real", lines...)

	require.NoError(t, w.Tick(context.Background()))

	row, err := sess.GetSessionByID(context.Background(), "sess-real")
	require.NoError(t, err)
	assert.Empty(t, row.CurrentWindow, "no live windows, so the session stays orphaned")
	assert.Equal(t, "/proj/real", row.ProjectPath)
}

func TestTick_UpdatesLastActivityWhenLogGrows(t *testing.T) {
	sess := newTestStoreForPoll(t)
	reg := registry.New()
	m := matcher.New(fakeRg{}, nil)
	driver := &fakePollDriver{}
	w := New(driver, reg, sess, m, Config{Interval: time.Second})

	dir := t.TempDir()
	t.Setenv("CLAUDE_CONFIG_DIR", dir)
	t.Setenv("CODEX_HOME", t.TempDir())
	path := filepath.Join(dir, "grow.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 10)), 0o644))

	ctx := context.Background()
	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	_, err := sess.InsertSession(ctx, store.Row{
		SessionID:        "sess-grow",
		LogFilePath:      path,
		ProjectPath:      "/proj/grow",
		AgentType:        "claude",
		CreatedAt:        created,
		LastActivityAt:   created,
		CurrentWindow:    "agentboard:@1",
		LastKnownLogSize: 10,
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 500)), 0o644))

	require.NoError(t, w.Tick(ctx))

	row, err := sess.GetSessionByID(ctx, "sess-grow")
	require.NoError(t, err)
	assert.Equal(t, int64(500), row.LastKnownLogSize)
	assert.True(t, row.LastActivityAt.After(created))
}

func TestTick_ClaimsWindowAndOrphansPreviousOwnerOnCollision(t *testing.T) {
	sess := newTestStoreForPoll(t)
	reg := registry.New()
	m := matcher.New(fakeRg{}, nil)

	claudeDir := t.TempDir()
	t.Setenv("CLAUDE_CONFIG_DIR", claudeDir)
	t.Setenv("CODEX_HOME", t.TempDir())

	ctx := context.Background()

	// Previous owner of the target window.
	_, err := sess.InsertSession(ctx, store.Row{
		SessionID:      "sess-old",
		LogFilePath:    "/logs/old.jsonl",
		ProjectPath:    "/proj/x",
		AgentType:      "claude",
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
		CurrentWindow:  "agentboard:@1",
	})
	require.NoError(t, err)

	lines := []string{"please fix the login flow bug", "now add a test for it"}
	path := writeLog(t, claudeDir, "new.jsonl", "sess-new", "/proj/x", lines...)

	driver := &fakePollDriver{scrollback: map[string]string{
		"agentboard:@1": "❯ please fix the login flow bug\n❯ now add a test for it\n",
	}}
	reg.ReplaceSessions([]registry.Session{{
		ID:          "agentboard:@1",
		ProjectPath: "/proj/x",
		AgentType:   registry.AgentClaude,
	}})

	var activated, orphaned []string
	w := New(driver, reg, sess, m, Config{
		Interval:           time.Second,
		OnSessionActivated: func(sid, win string) { activated = append(activated, sid+"="+win) },
		OnSessionOrphaned:  func(sid string) { orphaned = append(orphaned, sid) },
	})

	require.NoError(t, w.Tick(ctx))

	newRow, err := sess.GetSessionByID(ctx, "sess-new")
	require.NoError(t, err)
	assert.Equal(t, "agentboard:@1", newRow.CurrentWindow)

	oldRow, err := sess.GetSessionByID(ctx, "sess-old")
	require.NoError(t, err)
	assert.Empty(t, oldRow.CurrentWindow)

	assert.Contains(t, orphaned, "sess-old")
	assert.Contains(t, activated, "sess-new=agentboard:@1")
	_ = path
}

func TestRun_IntervalLEZeroDisablesPolling(t *testing.T) {
	sess := newTestStoreForPoll(t)
	reg := registry.New()
	m := matcher.New(fakeRg{}, nil)
	w := New(&fakePollDriver{}, reg, sess, m, Config{Interval: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Run(ctx) // must return immediately, not block until ctx deadline
}
