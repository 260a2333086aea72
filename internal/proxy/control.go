package proxy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/tbharthur/agentboard/internal/apperr"
	"github.com/tbharthur/agentboard/internal/logging"
)

// ControlHooks are optional callbacks for the structural notifications the
// control-mode stream carries alongside pane output.
type ControlHooks struct {
	OnWindowAdd     func(windowID string)
	OnWindowClose   func(windowID string)
	OnWindowRenamed func(windowID, name string)
	OnSessionChange func(sessionID, name string)
	OnPanePause     func(paneID string)
	OnPaneContinue  func(paneID string)
}

// controlSpawner starts a `tmux -CC attach` child and returns its PTY
// master; overridable in tests.
type controlSpawner func(target string, cols, rowsN int) (*os.File, *exec.Cmd, error)

func defaultControlSpawner(target string, cols, rowsN int) (*os.File, *exec.Cmd, error) {
	cmd := exec.Command("tmux", "-CC", "attach", "-t", target)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rowsN)})
	if err != nil {
		return nil, nil, err
	}
	return ptmx, cmd, nil
}

// Control is the control-mode terminal proxy variant (§4.11): a single
// `tmux -CC attach -t <target>` child whose machine-readable stream is
// decoded by controlParser. Only %output for paneID is forwarded to the
// consumer's onData; every other message drives ControlHooks.
//
// Multi-byte control sequences (arrow keys, etc.) written via Write are not
// specially encoded for send-keys; they are quoted the same as printable
// text, which is a known limitation of this variant, not a correctness bug.
type Control struct {
	mu        sync.Mutex
	state     State
	target    string
	paneID    string
	cols      dims
	selector  Selector
	spawn     controlSpawner
	hooks     ControlHooks
	parser    *controlParser
	ptmx      *os.File
	cmd       *exec.Cmd
	onData    OnData
	onExit    OnExit
	startOnce sync.Once
	startErr  error
	exitOnce  sync.Once
}

// NewControl constructs a Control proxy targeting target. paneID identifies
// which pane's %output events are forwarded as terminal bytes.
func NewControl(target, paneID string, selector Selector, hooks ControlHooks, onData OnData, onExit OnExit) *Control {
	return &Control{
		state:    StateIdle,
		target:   target,
		paneID:   paneID,
		cols:     dims{cols: DefaultCols, rows: DefaultRows},
		selector: selector,
		spawn:    defaultControlSpawner,
		hooks:    hooks,
		parser:   newControlParser(),
		onData:   onData,
		onExit:   onExit,
	}
}

// Start spawns the control-mode child. Idempotent (Testable Property 4).
func (p *Control) Start(ctx context.Context) error {
	p.startOnce.Do(func() {
		p.startErr = p.start(ctx)
	})
	return p.startErr
}

func (p *Control) start(ctx context.Context) error {
	p.mu.Lock()
	p.state = StateAttaching
	cols, rowsN := p.cols.cols, p.cols.rows
	target := p.target
	p.mu.Unlock()

	log := logging.Component("proxy.control")
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

	go readLoop(ptmx, p.handleChunk, p.handleExit)
	return nil
}

// handleChunk decodes a raw chunk of the control stream and dispatches each
// resulting event.
func (p *Control) handleChunk(chunk []byte) {
	p.mu.Lock()
	events := p.parser.FeedBytes(chunk)
	suppressed := p.state == StateSwitching
	myPane := p.paneID
	p.mu.Unlock()

	for _, ev := range events {
		p.dispatch(ev, suppressed, myPane)
	}
}

func (p *Control) dispatch(ev controlEvent, suppressed bool, myPane string) {
	switch ev.kind {
	case "output":
		if suppressed || ev.paneID != myPane || p.onData == nil {
			return
		}
		p.onData([]byte(ev.data))
	case "window-add":
		if p.hooks.OnWindowAdd != nil {
			p.hooks.OnWindowAdd(ev.windowID)
		}
	case "window-close":
		if p.hooks.OnWindowClose != nil {
			p.hooks.OnWindowClose(ev.windowID)
		}
	case "window-renamed":
		if p.hooks.OnWindowRenamed != nil {
			p.hooks.OnWindowRenamed(ev.windowID, ev.name)
		}
	case "session-changed":
		if p.hooks.OnSessionChange != nil {
			p.hooks.OnSessionChange(ev.sessionID, ev.name)
		}
	case "pause":
		if p.hooks.OnPanePause != nil {
			p.hooks.OnPanePause(ev.paneID)
		}
	case "continue":
		if p.hooks.OnPaneContinue != nil {
			p.hooks.OnPaneContinue(ev.paneID)
		}
	case "exit":
		// handled by handleExit when the read loop unwinds.
	}
}

func (p *Control) handleExit(err error) {
	p.mu.Lock()
	if p.state == StateDead {
		p.mu.Unlock()
		return
	}
	p.state = StateDead
	target := p.target
	p.mu.Unlock()

	logging.Component("proxy.control").Info().Str("target", target).Msg("terminal_proxy_dead")
	p.fireExit(err)
}

func (p *Control) fireExit(err error) {
	p.exitOnce.Do(func() {
		if p.onExit != nil {
			p.onExit(err)
		}
	})
}

// Switch redirects the underlying attachment to newTarget via select-window,
// the same as the direct-attach variant.
func (p *Control) Switch(ctx context.Context, newTarget string) error {
	p.mu.Lock()
	if p.state == StateDead {
		p.mu.Unlock()
		return apperr.ErrNotReady
	}
	p.state = StateSwitching
	oldTarget := p.target
	p.mu.Unlock()

	log := logging.Component("proxy.control")
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

// Write injects data into the pane via a `send-keys -l` command over the
// control connection.
func (p *Control) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := notReadyIfDead(p.state); err != nil {
		return err
	}
	if p.ptmx == nil {
		return apperr.ErrNotReady
	}
	cmd := fmt.Sprintf("send-keys -t %s -l '%s'\n", p.paneID, quoteForSendKeys(string(data)))
	_, err := p.ptmx.Write([]byte(cmd))
	return err
}

// quoteForSendKeys escapes backslashes and single quotes only, matching the
// original source's minimal quoting for the send-keys -l argument.
func quoteForSendKeys(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `'\''`)
	return s
}

// Resize issues a refresh-client resize for the control connection's client
// size. Errors are ignored per §4.11.
func (p *Control) Resize(cols, rowsN int) error {
	if cols <= 0 || rowsN <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols = dims{cols: cols, rows: rowsN}
	if p.state == StateDead || p.ptmx == nil {
		return nil
	}
	cmd := fmt.Sprintf("refresh-client -C %dx%d\n", cols, rowsN)
	_, _ = p.ptmx.Write([]byte(cmd))
	return nil
}

// PausePane/ResumePane issue the flow-control commands for a paused pane
// (§5 backpressure).
func (p *Control) PausePane(paneID string) error {
	return p.sendFlowControl(paneID, "-A", "pause-after:1")
}

func (p *Control) ResumePane(paneID string) error {
	return p.sendFlowControl(paneID, "-A", "continue")
}

func (p *Control) sendFlowControl(paneID, flag, mode string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := notReadyIfDead(p.state); err != nil {
		return err
	}
	if p.ptmx == nil {
		return apperr.ErrNotReady
	}
	cmd := fmt.Sprintf("refresh-client -t %s %s %s\n", paneID, flag, mode)
	_, err := p.ptmx.Write([]byte(cmd))
	return err
}

// Dispose kills the child process and marks the proxy DEAD.
func (p *Control) Dispose() error {
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

	logging.Component("proxy.control").Info().Str("target", p.Target()).Msg("terminal_proxy_dead")
	p.fireExit(nil)
	return firstErr
}

// State returns the proxy's current lifecycle state.
func (p *Control) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Target returns the tmux target this proxy currently follows.
func (p *Control) Target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}
