// Package preflight runs the startup checks described in §6 before the
// server binds its listener: single-instance lock, tmux/rg availability,
// and port-free verification.
package preflight

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/tbharthur/agentboard/internal/apperr"
)

// Status is the outcome of one CheckItem.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// CheckItem is a single line item within a Result.
type CheckItem struct {
	Label  string
	Status Status
	Detail string
}

// Result is the outcome of one Check, which may report several items.
type Result struct {
	Name  string
	Items []CheckItem
}

// Check is one preflight verification step.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// RunAll executes every check in order and collects their results.
func RunAll(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		results = append(results, c.Run(ctx))
	}
	return results
}

// Summary counts items by status across every result.
func Summary(results []Result) (passed, warned, failed int) {
	for _, r := range results {
		for _, item := range r.Items {
			switch item.Status {
			case StatusPass:
				passed++
			case StatusWarn:
				warned++
			case StatusFail:
				failed++
			}
		}
	}
	return passed, warned, failed
}

// lookPathFunc and runVersionFunc are package vars so tests can stub out
// the real binaries.
var (
	lookPathFunc   = exec.LookPath
	runVersionFunc = func(name string) error {
		return exec.Command(name, "-V").Run()
	}
)

// TmuxCheck verifies tmux is installed and runnable; its absence is fatal
// (§6: "fail fast... otherwise").
type TmuxCheck struct{}

func (TmuxCheck) Name() string { return "tmux" }

func (TmuxCheck) Run(_ context.Context) Result {
	if _, err := lookPathFunc("tmux"); err != nil {
		return Result{Name: "tmux", Items: []CheckItem{{
			Label: "tmux", Status: StatusFail, Detail: "not found on PATH",
		}}}
	}
	if err := runVersionFunc("tmux"); err != nil {
		return Result{Name: "tmux", Items: []CheckItem{{
			Label: "tmux", Status: StatusFail, Detail: "tmux -V failed: " + err.Error(),
		}}}
	}
	return Result{Name: "tmux", Items: []CheckItem{{Label: "tmux", Status: StatusPass}}}
}

// RipgrepCheck verifies rg is installed; its absence only warns, since the
// matcher degrades to "no match" without it (§6).
type RipgrepCheck struct{}

func (RipgrepCheck) Name() string { return "ripgrep" }

func (RipgrepCheck) Run(_ context.Context) Result {
	if _, err := lookPathFunc("rg"); err != nil {
		return Result{Name: "ripgrep", Items: []CheckItem{{
			Label: "rg", Status: StatusWarn, Detail: "not found on PATH; log matching will always report no match",
		}}}
	}
	if err := runVersionFunc("rg"); err != nil {
		return Result{Name: "ripgrep", Items: []CheckItem{{
			Label: "rg", Status: StatusWarn, Detail: "rg -V failed: " + err.Error(),
		}}}
	}
	return Result{Name: "ripgrep", Items: []CheckItem{{Label: "rg", Status: StatusPass}}}
}

// listenFunc is overridable so tests can simulate a port already in use
// without binding a real socket.
var listenFunc = func(port int) (net.Listener, error) {
	return net.Listen("tcp", ":"+strconv.Itoa(port))
}

// PortCheck verifies the configured port is free by probing it directly;
// holding it open would itself collide with the real server, so it's
// released immediately after the probe succeeds.
type PortCheck struct {
	Port int
}

func (PortCheck) Name() string { return "port" }

func (c PortCheck) Run(_ context.Context) Result {
	ln, err := listenFunc(c.Port)
	if err != nil {
		return Result{Name: "port", Items: []CheckItem{{
			Label:  "port " + strconv.Itoa(c.Port),
			Status: StatusFail,
			Detail: fmt.Sprintf("already in use: %v", err),
		}}}
	}
	_ = ln.Close()
	return Result{Name: "port", Items: []CheckItem{{Label: "port " + strconv.Itoa(c.Port), Status: StatusPass}}}
}

// AcquireLock takes the advisory single-instance lock at path+".lock"
// before any other preflight step runs (§6), so two racing processes can't
// both pass the port check before either has bound it. The returned
// flock.Flock must be held (not unlocked) for the server's lifetime; the
// caller unlocks it on shutdown.
func AcquireLock(path string) (*flock.Flock, error) {
	lockPath := path + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrAlreadyRunning, err)
	}
	if !locked {
		return nil, apperr.ErrAlreadyRunning
	}
	return fl, nil
}
