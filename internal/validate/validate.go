// Package validate holds the pure predicates applied before every
// command-line invocation of tmux, to prevent argument injection.
package validate

import (
	"regexp"
	"strings"
)

// MaxLength bounds every validated string; anything longer is rejected
// outright regardless of content.
const MaxLength = 4096

var (
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@-]+$`)
	targetNamePart   = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	targetWindowID   = regexp.MustCompile(`^@[0-9]+$`)
	targetWindowName = regexp.MustCompile(`^[A-Za-z0-9_.:@-]+$`)
)

// IsValidSessionID reports whether s is a well-formed session identifier:
// non-empty, at most MaxLength bytes, and drawn from
// [A-Za-z0-9_.:@-]+.
func IsValidSessionID(s string) bool {
	if s == "" || len(s) > MaxLength {
		return false
	}
	return sessionIDPattern.MatchString(s)
}

// IsValidTmuxTarget reports whether s is a well-formed tmux target: an
// optional "sessionName:" prefix followed by either a window ID (@digits)
// or an alphanumeric/punctuation window name.
func IsValidTmuxTarget(s string) bool {
	if s == "" || len(s) > MaxLength {
		return false
	}

	rest := s
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		sessionName := s[:idx]
		if sessionName == "" || !targetNamePart.MatchString(sessionName) {
			return false
		}
		rest = s[idx+1:]
	}

	if rest == "" {
		return false
	}
	if targetWindowID.MatchString(rest) {
		return true
	}
	return targetWindowName.MatchString(rest)
}
