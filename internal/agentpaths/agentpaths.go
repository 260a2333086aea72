// Package agentpaths resolves the on-disk locations of agent conversation
// logs and extracts the header metadata (session ID, working directory,
// agent kind) that the rest of the core needs without ever modifying the
// log files themselves.
package agentpaths

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AgentKind identifies which CLI produced a log.
type AgentKind string

const (
	Claude AgentKind = "claude"
	Codex  AgentKind = "codex"
)

const headSniffLimit = 64 * 1024

const (
	claudeMaxDepth = 3
	codexMaxDepth  = 4
)

// Roots holds the two resolved log search directories.
type Roots struct {
	ClaudeDir string
	CodexDir  string
}

// ListLogSearchDirs resolves the Claude and Codex log roots from
// CLAUDE_CONFIG_DIR / CODEX_HOME, falling back to the OS home-directory
// convention ("~/.claude/projects", "~/.codex/sessions").
func ListLogSearchDirs() Roots {
	home, _ := os.UserHomeDir()

	claude := os.Getenv("CLAUDE_CONFIG_DIR")
	if claude == "" {
		claude = filepath.Join(home, ".claude", "projects")
	}

	codex := os.Getenv("CODEX_HOME")
	if codex == "" {
		codex = filepath.Join(home, ".codex", "sessions")
	}

	return Roots{ClaudeDir: claude, CodexDir: codex}
}

// EncodeProjectPath returns a deterministic, separator-free encoding of an
// absolute project path, matching the Claude CLI's own directory-naming
// convention (every path separator becomes a hyphen).
func EncodeProjectPath(p string) string {
	return strings.ReplaceAll(p, string(filepath.Separator), "-")
}

// InferAgentTypeFromPath reports which root prefix path lies under, or ""
// if it matches neither.
func InferAgentTypeFromPath(path string, roots Roots) AgentKind {
	switch {
	case roots.ClaudeDir != "" && hasPathPrefix(path, roots.ClaudeDir):
		return Claude
	case roots.CodexDir != "" && hasPathPrefix(path, roots.CodexDir):
		return Codex
	default:
		return ""
	}
}

func hasPathPrefix(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ScanAllLogDirs walks both roots to a bounded depth, returning every
// absolute *.jsonl path found. Symlinks and any directory literally named
// "subagents" are skipped. Unreadable directories are silently skipped —
// discovery is best-effort.
func ScanAllLogDirs(roots Roots) []string {
	var out []string
	out = append(out, scanRoot(roots.ClaudeDir, claudeMaxDepth)...)
	out = append(out, scanRoot(roots.CodexDir, codexMaxDepth)...)
	return out
}

func scanRoot(root string, maxDepth int) []string {
	var out []string
	if root == "" {
		return out
	}
	info, err := os.Lstat(root)
	if err != nil || !info.IsDir() {
		return out
	}

	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			full := filepath.Join(dir, name)

			if entry.Type()&fs.ModeSymlink != 0 {
				continue
			}

			if entry.IsDir() {
				if name == "subagents" {
					continue
				}
				if depth < maxDepth {
					walk(full, depth+1)
				}
				continue
			}

			if strings.HasSuffix(name, ".jsonl") {
				out = append(out, full)
			}
		}
	}

	walk(root, 1)
	return out
}

// logLine is the minimal superset of fields this package reads out of a
// JSONL conversation log line. Both agents' top-level and payload-nested
// shapes are covered.
type logLine struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	SessionID2 string         `json:"session_id"`
	Cwd       string          `json:"cwd"`
	Payload   json.RawMessage `json:"payload"`
}

type payloadFields struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"sessionId"`
	SessionID2       string          `json:"session_id"`
	Cwd              string          `json:"cwd"`
	WorkingDirectory string          `json:"working_directory"`
	Source           json.RawMessage `json:"source"`
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, headSniffLimit)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// ExtractSessionID reads the first up-to-64KB of the log and returns the
// first non-empty session ID found across the top-level and payload-nested
// fields both agents use. Unparseable lines are skipped; unreadable files
// or logs with no session ID return "".
func ExtractSessionID(path string) string {
	head, err := readHead(path)
	if err != nil {
		return ""
	}
	sc := bufio.NewScanner(bytes.NewReader(head))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var line logLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.SessionID != "" {
			return line.SessionID
		}
		if line.SessionID2 != "" {
			return line.SessionID2
		}
		if len(line.Payload) > 0 {
			var pf payloadFields
			if err := json.Unmarshal(line.Payload, &pf); err == nil {
				if pf.ID != "" {
					return pf.ID
				}
				if pf.SessionID != "" {
					return pf.SessionID
				}
				if pf.SessionID2 != "" {
					return pf.SessionID2
				}
			}
		}
	}
	return ""
}

// ExtractProjectPath reads the first up-to-64KB of the log and returns the
// first non-empty working directory found.
func ExtractProjectPath(path string) string {
	head, err := readHead(path)
	if err != nil {
		return ""
	}
	sc := bufio.NewScanner(bytes.NewReader(head))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var line logLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.Cwd != "" {
			return line.Cwd
		}
		if len(line.Payload) > 0 {
			var pf payloadFields
			if err := json.Unmarshal(line.Payload, &pf); err == nil {
				if pf.Cwd != "" {
					return pf.Cwd
				}
				if pf.WorkingDirectory != "" {
					return pf.WorkingDirectory
				}
			}
		}
	}
	return ""
}

// IsCodexSubagent reports whether the very first line of the log parses,
// has type "session_meta", and its payload's "source" field is a JSON
// object rather than the string "cli".
func IsCodexSubagent(path string) bool {
	head, err := readHead(path)
	if err != nil {
		return false
	}
	sc := bufio.NewScanner(bytes.NewReader(head))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() {
		return false
	}
	var line logLine
	if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
		return false
	}
	if line.Type != "session_meta" || len(line.Payload) == 0 {
		return false
	}
	var pf payloadFields
	if err := json.Unmarshal(line.Payload, &pf); err != nil {
		return false
	}
	if len(pf.Source) == 0 {
		return false
	}
	trimmed := strings.TrimSpace(string(pf.Source))
	return strings.HasPrefix(trimmed, "{")
}

// LogTimes bundles the three timestamps/size GetLogTimes reports.
type LogTimes struct {
	ModTime   time.Time
	BirthTime time.Time
	Size      int64
}

// GetLogTimes stats path, falling back to mtime for birthtime when the
// platform doesn't expose a creation time via the standard library.
func GetLogTimes(path string) (LogTimes, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LogTimes{}, err
	}
	mtime := info.ModTime()
	return LogTimes{
		ModTime:   mtime,
		BirthTime: mtime,
		Size:      info.Size(),
	}, nil
}

// tokenScanLimit bounds how much of a log EstimateTokenCount reads; large
// conversation logs only need enough sampled to tell "empty" from "real".
const tokenScanLimit = 2 * 1024 * 1024

// EstimateTokenCount reads up to tokenScanLimit bytes of path and returns a
// cheap word-count approximation of the assistant+user text it contains.
// Unreadable or unparseable files return 0.
func EstimateTokenCount(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(io.LimitReader(f, tokenScanLimit))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var words int
	for sc.Scan() {
		var v any
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		var text strings.Builder
		collectMessageText(v, &text)
		words += len(strings.Fields(text.String()))
	}
	return words
}

// collectMessageText walks a decoded JSON value and appends every string
// found under a "text" or "content" key, covering both agents' nested
// message shapes without committing to either one's exact schema.
func collectMessageText(v any, out *strings.Builder) {
	switch val := v.(type) {
	case map[string]any:
		for key, child := range val {
			if s, ok := child.(string); ok && (key == "text" || key == "content") {
				out.WriteString(s)
				out.WriteByte(' ')
				continue
			}
			collectMessageText(child, out)
		}
	case []any:
		for _, item := range val {
			collectMessageText(item, out)
		}
	}
}
