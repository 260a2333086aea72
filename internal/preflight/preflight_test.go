package preflight

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubLookPath(t *testing.T, present map[string]bool) {
	t.Helper()
	orig := lookPathFunc
	t.Cleanup(func() { lookPathFunc = orig })
	lookPathFunc = func(name string) (string, error) {
		if present[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
}

func stubRunVersion(t *testing.T, fail map[string]bool) {
	t.Helper()
	orig := runVersionFunc
	t.Cleanup(func() { runVersionFunc = orig })
	runVersionFunc = func(name string) error {
		if fail[name] {
			return errors.New("exit status 1")
		}
		return nil
	}
}

func TestTmuxCheck_Pass(t *testing.T) {
	stubLookPath(t, map[string]bool{"tmux": true})
	stubRunVersion(t, nil)
	r := TmuxCheck{}.Run(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, StatusPass, r.Items[0].Status)
}

func TestTmuxCheck_MissingFromPathFails(t *testing.T) {
	stubLookPath(t, map[string]bool{})
	r := TmuxCheck{}.Run(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, StatusFail, r.Items[0].Status)
}

func TestTmuxCheck_VersionFailureFails(t *testing.T) {
	stubLookPath(t, map[string]bool{"tmux": true})
	stubRunVersion(t, map[string]bool{"tmux": true})
	r := TmuxCheck{}.Run(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, StatusFail, r.Items[0].Status)
}

func TestRipgrepCheck_MissingWarnsNotFails(t *testing.T) {
	stubLookPath(t, map[string]bool{})
	r := RipgrepCheck{}.Run(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, StatusWarn, r.Items[0].Status)
}

func TestRipgrepCheck_Pass(t *testing.T) {
	stubLookPath(t, map[string]bool{"rg": true})
	stubRunVersion(t, nil)
	r := RipgrepCheck{}.Run(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, StatusPass, r.Items[0].Status)
}

func TestPortCheck_FreePortPasses(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	r := PortCheck{Port: port}.Run(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, StatusPass, r.Items[0].Status)
}

func TestPortCheck_HeldPortFails(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	r := PortCheck{Port: port}.Run(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, StatusFail, r.Items[0].Status)
	assert.Contains(t, r.Items[0].Detail, "already in use")
}

func TestAcquireLock_SecondAcquireFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agentboard.db")

	fl1, err := AcquireLock(dbPath)
	require.NoError(t, err)
	defer fl1.Unlock()

	_, err = AcquireLock(dbPath)
	assert.Error(t, err)
}

func TestSummary_CountsByStatus(t *testing.T) {
	results := []Result{
		{Name: "a", Items: []CheckItem{{Status: StatusPass}, {Status: StatusWarn}}},
		{Name: "b", Items: []CheckItem{{Status: StatusFail}}},
	}
	passed, warned, failed := Summary(results)
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, warned)
	assert.Equal(t, 1, failed)
}
