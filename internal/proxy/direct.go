package proxy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/tbharthur/agentboard/internal/apperr"
	"github.com/tbharthur/agentboard/internal/logging"
)

// spawner starts a PTY-backed "tmux attach" child for target and returns its
// master end plus the *exec.Cmd, so tests can substitute a stub binary.
type spawner func(target string, cols, rows int) (*os.File, *exec.Cmd, error)

func defaultSpawner(target string, cols, rows int) (*os.File, *exec.Cmd, error) {
	cmd := exec.Command("tmux", "attach", "-t", target)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, nil, err
	}
	return ptmx, cmd, nil
}

// Direct is the direct-attach terminal proxy variant (§4.11): one
// `tmux attach -t <target>` child per attachment, its PTY bytes forwarded
// verbatim.
type Direct struct {
	mu        sync.Mutex
	state     State
	target    string
	cols      dims
	selector  Selector
	spawn     spawner
	ptmx      *os.File
	cmd       *exec.Cmd
	onData    OnData
	onExit    OnExit
	startOnce sync.Once
	startErr  error
	exitOnce  sync.Once
}

type dims struct {
	cols, rows int
}

// NewDirect constructs a Direct proxy targeting target. onData and onExit
// must both be non-nil.
func NewDirect(target string, selector Selector, onData OnData, onExit OnExit) *Direct {
	return &Direct{
		state:    StateIdle,
		target:   target,
		cols:     dims{cols: DefaultCols, rows: DefaultRows},
		selector: selector,
		spawn:    defaultSpawner,
		onData:   onData,
		onExit:   onExit,
	}
}

// Start spawns the child process. Idempotent: later calls return the first
// call's result without spawning a second child (Testable Property 4).
func (p *Direct) Start(ctx context.Context) error {
	p.startOnce.Do(func() {
		p.startErr = p.start(ctx)
	})
	return p.startErr
}

func (p *Direct) start(ctx context.Context) error {
	p.mu.Lock()
	p.state = StateAttaching
	cols, rowsN := p.cols.cols, p.cols.rows
	target := p.target
	p.mu.Unlock()

	log := logging.Component("proxy.direct")
	started := time.Now()
	log.Info().Str("target", target).Msg("terminal_proxy_start")

	ptmx, cmd, err := p.spawn(target, cols, rowsN)
	if err != nil {
		p.mu.Lock()
		p.state = StateDead
		p.mu.Unlock()
		log.Warn().Str("target", target).Err(err).Dur("elapsed", time.Since(started)).Msg("terminal_proxy_dead")
		return fmt.Errorf("%w: %v", apperr.ErrTmuxAttachFailed, err)
	}

	p.mu.Lock()
	p.ptmx = ptmx
	p.cmd = cmd
	p.state = StateReady
	p.mu.Unlock()

	log.Info().Str("target", target).Dur("elapsed", time.Since(started)).Msg("terminal_proxy_ready")

	go readLoop(ptmx, p.forward, p.handleExit)
	return nil
}

// forward delivers a chunk to the consumer, suppressed while SWITCHING.
func (p *Direct) forward(chunk []byte) {
	p.mu.Lock()
	suppressed := p.state == StateSwitching
	onData := p.onData
	p.mu.Unlock()
	if suppressed || onData == nil {
		return
	}
	onData(chunk)
}

func (p *Direct) handleExit(err error) {
	p.mu.Lock()
	if p.state == StateDead {
		p.mu.Unlock()
		return
	}
	p.state = StateDead
	target := p.target
	p.mu.Unlock()

	logging.Component("proxy.direct").Info().Str("target", target).Msg("terminal_proxy_dead")
	p.fireExit(err)
}

func (p *Direct) fireExit(err error) {
	p.exitOnce.Do(func() {
		if p.onExit != nil {
			p.onExit(err)
		}
	})
}

// Switch redirects the attached client to newTarget via select-window,
// suppressing output for the duration (§4.11). Returns to READY on both
// success and ERR_TMUX_SWITCH_FAILED.
func (p *Direct) Switch(ctx context.Context, newTarget string) error {
	p.mu.Lock()
	if p.state == StateDead {
		p.mu.Unlock()
		return apperr.ErrNotReady
	}
	p.state = StateSwitching
	oldTarget := p.target
	p.mu.Unlock()

	log := logging.Component("proxy.direct")
	started := time.Now()
	log.Info().Str("from", oldTarget).Str("to", newTarget).Msg("terminal_switch_attempt")

	err := p.selector.SelectWindow(ctx, newTarget)

	p.mu.Lock()
	if err != nil {
		p.state = StateReady
		p.mu.Unlock()
		log.Warn().Str("to", newTarget).Err(err).Dur("elapsed", time.Since(started)).Msg("terminal_switch_attempt_failure")
		return fmt.Errorf("%w: %v", apperr.ErrTmuxSwitchFailed, err)
	}
	p.target = newTarget
	p.state = StateReady
	p.mu.Unlock()

	log.Info().Str("to", newTarget).Dur("elapsed", time.Since(started)).Msg("terminal_switch_attempt_success")
	return nil
}

// Write injects data into the child's stdin.
func (p *Direct) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := notReadyIfDead(p.state); err != nil {
		return err
	}
	if p.ptmx == nil {
		return apperr.ErrNotReady
	}
	_, err := p.ptmx.Write(data)
	return err
}

// Resize adjusts the PTY dimensions. Errors are ignored per §4.11.
func (p *Direct) Resize(cols, rowsN int) error {
	if cols <= 0 || rowsN <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols = dims{cols: cols, rows: rowsN}
	if p.state == StateDead || p.ptmx == nil {
		return nil
	}
	_ = pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rowsN)})
	return nil
}

// Dispose kills the child process and marks the proxy DEAD. Safe to call
// more than once; only the first call has an effect.
func (p *Direct) Dispose() error {
	p.mu.Lock()
	if p.state == StateDead {
		p.mu.Unlock()
		return nil
	}
	p.state = StateDead
	cmd := p.cmd
	ptmx := p.ptmx
	p.mu.Unlock()

	var firstErr error
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			firstErr = err
		}
	}
	if ptmx != nil {
		if err := ptmx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	logging.Component("proxy.direct").Info().Str("target", p.Target()).Msg("terminal_proxy_dead")
	p.fireExit(nil)
	return firstErr
}

// State returns the proxy's current lifecycle state.
func (p *Direct) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Target returns the tmux target this proxy currently follows.
func (p *Direct) Target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}
