// Package apperr defines the error taxonomy shared across Agentboard's
// components: sentinel errors for the environmental/fatal class, and a
// client-visible error type for the request class.
package apperr

import "errors"

// Environmental/fatal errors. The process exits non-zero after logging one
// of these at error level.
var (
	ErrTmuxMissing    = errors.New("tmux: prerequisite check failed")
	ErrPortInUse      = errors.New("port already in use")
	ErrDatabaseOpen   = errors.New("database could not be opened")
	ErrInvalidLogRoot = errors.New("log root environment variable is invalid")
	ErrAlreadyRunning = errors.New("another agentboard instance holds the lock")
	ErrInvalidConfig  = errors.New("configuration is invalid")
)

// Transient proxy errors (§4.11). The state machine retries or reports these
// without tearing down the owning connection.
var (
	ErrSessionCreateFailed = errors.New("tmux: grouped session creation failed")
	ErrTmuxAttachFailed    = errors.New("tmux: attach failed")
	ErrTmuxSwitchFailed    = errors.New("tmux: select-window failed")
	ErrNotReady            = errors.New("terminal proxy is not ready")
)

// Tmux driver request errors (§4.3).
var (
	ErrPathMissing = errors.New("project path does not exist")
	ErrCmdRequired = errors.New("a name or command is required")
	ErrTmux        = errors.New("tmux command failed")
)

// ClientCode enumerates the codes surfaced on the wire in an {"type":"error"}
// message (§7, client-request error class).
type ClientCode string

const (
	CodeInvalidSessionID ClientCode = "invalid_session_id"
	CodeInvalidTarget    ClientCode = "invalid_tmux_target"
	CodePathNotFound     ClientCode = "path_not_found"
	CodeNameCollision    ClientCode = "name_collision"
	CodeNameNotAllowed   ClientCode = "name_not_allowed"
	CodeNotAttached      ClientCode = "not_attached"
	CodeInternal         ClientCode = "internal"
)

// ClientError is surfaced to the originating connection as an `error` wire
// message; it never closes the connection.
type ClientError struct {
	Code    ClientCode
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}

// NewClientError builds a ClientError with the given code and message.
func NewClientError(code ClientCode, message string) *ClientError {
	return &ClientError{Code: code, Message: message}
}

// AsClientError unwraps err looking for a *ClientError.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
