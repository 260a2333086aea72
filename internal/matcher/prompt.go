// Package matcher resolves which JSONL conversation log, if any, belongs to
// a live tmux window, by finding the window's own prompts inside the log
// text (§4.5).
package matcher

import (
	"regexp"
	"strings"
)

// MaxPrompts bounds how many recent user prompts are extracted from a
// window's scrollback.
const MaxPrompts = 8

// MinPromptLen is the shortest prompt usable as a disambiguating rg pattern.
const MinPromptLen = 5

var (
	promptLinePattern  = regexp.MustCompile(`^\s*[>#*$]?\s*[❯›]\s*(.*)$`)
	currentInputMarker = regexp.MustCompile(`(?i)\?\s*for\s*shortcuts|\[\d{1,3}%\]|\d{1,3}%\s*context\s*left`)
	uiGlyphPattern     = regexp.MustCompile(`[•❯⏵⏺↵›]`)
	timerFragment      = regexp.MustCompile(`\(\d+s[^)]*\)`)
	whitespaceRun      = regexp.MustCompile(`\s+`)
)

// ExtractPrompts returns up to MaxPrompts user-prompt lines found in
// scrollback, most recent first, with UI decoration collapsed away.
func ExtractPrompts(scrollback string) []string {
	lines := strings.Split(scrollback, "\n")

	var prompts []string
	for i := len(lines) - 1; i >= 0 && len(prompts) < MaxPrompts; i-- {
		line := lines[i]
		m := promptLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.Contains(line, "↵") {
			continue
		}
		if isCurrentInputField(lines, i) {
			continue
		}
		cleaned := cleanPromptText(m[1])
		if cleaned == "" {
			continue
		}
		prompts = append(prompts, cleaned)
	}
	return prompts
}

// isCurrentInputField reports whether the prompt line at index i is the
// still-being-typed input box rather than a submitted prompt, detected by a
// status line (hint text, context-left indicator) within a couple of rows.
func isCurrentInputField(lines []string, i int) bool {
	start := i - 2
	if start < 0 {
		start = 0
	}
	end := i + 3
	if end > len(lines) {
		end = len(lines)
	}
	for _, l := range lines[start:end] {
		if currentInputMarker.MatchString(l) {
			return true
		}
	}
	return false
}

func cleanPromptText(s string) string {
	s = uiGlyphPattern.ReplaceAllString(s, "")
	s = timerFragment.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
