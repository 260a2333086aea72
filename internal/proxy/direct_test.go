package proxy

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbharthur/agentboard/internal/apperr"
)

type fakeSelector struct {
	err   error
	calls []string
	mu    sync.Mutex
}

func (f *fakeSelector) SelectWindow(ctx context.Context, target string) error {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	f.mu.Unlock()
	return f.err
}

// echoSpawner starts a real PTY running a no-echo cat, so writes loop back
// as output deterministically without a real tmux binary.
func echoSpawner(target string, cols, rowsN int) (*os.File, *exec.Cmd, error) {
	cmd := exec.Command("sh", "-c", "stty -echo; cat")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rowsN)})
	return ptmx, cmd, err
}

func collectingOnData() (OnData, func() []byte) {
	var mu sync.Mutex
	var got []byte
	return func(chunk []byte) {
			mu.Lock()
			got = append(got, chunk...)
			mu.Unlock()
		}, func() []byte {
			mu.Lock()
			defer mu.Unlock()
			out := make([]byte, len(got))
			copy(out, got)
			return out
		}
}

func TestDirect_StartIsIdempotent(t *testing.T) {
	var calls int32
	sel := &fakeSelector{}
	onData, _ := collectingOnData()
	var exitErr error
	p := NewDirect("agentboard:@1", sel, onData, func(err error) { exitErr = err })
	p.spawn = func(target string, cols, rowsN int) (*os.File, *exec.Cmd, error) {
		atomic.AddInt32(&calls, 1)
		return echoSpawner(target, cols, rowsN)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Start(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, StateReady, p.State())
	_ = p.Dispose()
	_ = exitErr
}

func TestDirect_WriteIsEchoedThroughReadLoop(t *testing.T) {
	sel := &fakeSelector{}
	onData, get := collectingOnData()
	done := make(chan struct{})
	p := NewDirect("agentboard:@1", sel, onData, func(error) { close(done) })
	p.spawn = echoSpawner

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Write([]byte("hello\n")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(get()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Contains(t, string(get()), "hello")

	require.NoError(t, p.Dispose())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onExit not fired after Dispose")
	}
}

func TestDirect_SwitchSuccessReturnsToReadyAndUpdatesTarget(t *testing.T) {
	sel := &fakeSelector{}
	onData, _ := collectingOnData()
	p := NewDirect("agentboard:@1", sel, onData, func(error) {})
	p.spawn = echoSpawner
	require.NoError(t, p.Start(context.Background()))
	defer p.Dispose()

	require.NoError(t, p.Switch(context.Background(), "agentboard:@2"))
	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, "agentboard:@2", p.Target())
	assert.Equal(t, []string{"agentboard:@2"}, sel.calls)
}

func TestDirect_SwitchFailureReturnsToReadyAndWrapsError(t *testing.T) {
	sel := &fakeSelector{err: errors.New("no such window")}
	onData, _ := collectingOnData()
	p := NewDirect("agentboard:@1", sel, onData, func(error) {})
	p.spawn = echoSpawner
	require.NoError(t, p.Start(context.Background()))
	defer p.Dispose()

	err := p.Switch(context.Background(), "agentboard:@9")
	assert.ErrorIs(t, err, apperr.ErrTmuxSwitchFailed)
	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, "agentboard:@1", p.Target())
}

func TestDirect_SpawnFailureMarksDeadAndWrapsError(t *testing.T) {
	sel := &fakeSelector{}
	onData, _ := collectingOnData()
	p := NewDirect("agentboard:@1", sel, onData, func(error) {})
	p.spawn = func(target string, cols, rowsN int) (*os.File, *exec.Cmd, error) {
		return nil, nil, errors.New("boom")
	}

	err := p.Start(context.Background())
	assert.ErrorIs(t, err, apperr.ErrTmuxAttachFailed)
	assert.Equal(t, StateDead, p.State())
}

func TestDirect_OperationsOnDeadProxyReturnNotReady(t *testing.T) {
	sel := &fakeSelector{}
	onData, _ := collectingOnData()
	p := NewDirect("agentboard:@1", sel, onData, func(error) {})
	p.spawn = echoSpawner
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Dispose())

	assert.ErrorIs(t, p.Write([]byte("x")), apperr.ErrNotReady)
	assert.ErrorIs(t, p.Switch(context.Background(), "agentboard:@2"), apperr.ErrNotReady)
}

func TestDirect_DisposeFiresOnExitExactlyOnce(t *testing.T) {
	sel := &fakeSelector{}
	onData, _ := collectingOnData()
	var exitCount int32
	p := NewDirect("agentboard:@1", sel, onData, func(error) { atomic.AddInt32(&exitCount, 1) })
	p.spawn = echoSpawner
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Dispose())
	require.NoError(t, p.Dispose())
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&exitCount))
}

func TestDirect_ResizeIgnoresNonPositiveDimensions(t *testing.T) {
	sel := &fakeSelector{}
	onData, _ := collectingOnData()
	p := NewDirect("agentboard:@1", sel, onData, func(error) {})
	p.spawn = echoSpawner
	require.NoError(t, p.Start(context.Background()))
	defer p.Dispose()

	assert.NoError(t, p.Resize(0, 10))
	assert.NoError(t, p.Resize(10, 0))
	assert.NoError(t, p.Resize(100, 40))
}
