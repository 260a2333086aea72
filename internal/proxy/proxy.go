// Package proxy implements the per-connection terminal proxy (§4.11): a
// small state machine wrapping one attached multiplexer client, in either
// its direct-attach or control-mode variant.
package proxy

import (
	"context"
	"io"

	"github.com/tbharthur/agentboard/internal/apperr"
)

// State is one node of the proxy's lifecycle.
type State int

const (
	StateIdle State = iota
	StateAttaching
	StateReady
	StateSwitching
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttaching:
		return "attaching"
	case StateReady:
		return "ready"
	case StateSwitching:
		return "switching"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// OnData is invoked once per chunk of terminal output, verbatim, while the
// proxy is READY. Suppressed while SWITCHING.
type OnData func([]byte)

// OnExit is invoked exactly once, when the underlying child process exits
// or the proxy is disposed.
type OnExit func(error)

// Selector is the subset of the tmux driver a proxy needs to redirect an
// already-attached client to a different window.
type Selector interface {
	SelectWindow(ctx context.Context, target string) error
}

// Proxy is implemented by both the direct-attach and control-mode variants.
type Proxy interface {
	Start(ctx context.Context) error
	Switch(ctx context.Context, newTarget string) error
	Write(data []byte) error
	Resize(cols, rows int) error
	Dispose() error
	State() State
	Target() string
}

const (
	DefaultCols = 80
	DefaultRows = 24
)

var (
	_ Proxy = (*Direct)(nil)
	_ Proxy = (*Control)(nil)
)

// readLoop copies bytes from r into onData chunk by chunk until r returns an
// error (EOF or the pty/pipe closing), then calls done exactly once.
func readLoop(r io.Reader, onData func([]byte), done func(error)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onData(chunk)
		}
		if err != nil {
			done(err)
			return
		}
	}
}

// notReadyIfDead returns ErrNotReady when st is StateDead, nil otherwise.
func notReadyIfDead(st State) error {
	if st == StateDead {
		return apperr.ErrNotReady
	}
	return nil
}
