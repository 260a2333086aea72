// Package pollgate decides which freshly-polled log snapshots are worth
// running the (expensive) matcher against (§4.6).
package pollgate

import "strings"

// NoEnrichment is the sentinel token count meaning "extraction was skipped
// for this entry" — such entries bypass the minimum-token-count floor.
const NoEnrichment = -1

// CodexExecSentinel is the project-path value some skip-pattern configs use
// to always suppress Codex's headless "-exec" sessions.
const CodexExecSentinel = "<codex-exec>"

// LogEntry is one freshly-polled log snapshot.
type LogEntry struct {
	SessionID   string
	LogPath     string
	ProjectPath string
	TokenCount  int // NoEnrichment if extraction was skipped
	IsCodexExec bool
	FileSize    int64
}

// PersistedSession is the flattened database row for a session already on
// record.
type PersistedSession struct {
	SessionID        string
	CurrentWindow    string // empty means orphan
	LastKnownLogSize int64
}

// Options configures the gate's thresholds.
type Options struct {
	MinTokenCount int
	SkipPatterns  []string
}

// GetEntriesNeedingMatch applies the six ordered rules and returns the
// subset of entries a matching pass should be run against.
func GetEntriesNeedingMatch(entries []LogEntry, sessions map[string]PersistedSession, opts Options) []LogEntry {
	var out []LogEntry
	for _, e := range entries {
		if e.SessionID == "" {
			continue
		}
		if e.IsCodexExec {
			continue
		}
		if e.TokenCount != NoEnrichment && e.TokenCount < opts.MinTokenCount {
			continue
		}

		persisted, known := sessions[e.SessionID]
		if !known {
			out = append(out, e)
			continue
		}
		if persisted.CurrentWindow != "" {
			continue
		}
		// Orphan: only include if the log grew, and not skip-pattern suppressed.
		if e.FileSize == persisted.LastKnownLogSize {
			continue
		}
		if matchesAnySkipPattern(e.ProjectPath, opts.SkipPatterns) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ShouldRunMatching reports whether a matching pass over entries would do
// any work at all, given the same rules as GetEntriesNeedingMatch.
func ShouldRunMatching(entries []LogEntry, sessions map[string]PersistedSession, opts Options) bool {
	return len(GetEntriesNeedingMatch(entries, sessions, opts)) > 0
}

func matchesAnySkipPattern(projectPath string, patterns []string) bool {
	target := normalizePattern(projectPath)
	for _, p := range patterns {
		pattern := normalizePattern(p)
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(target, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if target == pattern {
			return true
		}
	}
	return false
}

func normalizePattern(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "\\", "/"))
}
