package status

import (
	"regexp"
	"strings"
)

// permissionPatterns match the approval dialogs Claude Code and Codex render
// when they need an explicit yes/no from the operator: a bulleted option
// list headed by a question, or an inline "(y/n)" prompt.
var permissionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)do you want to (proceed|continue|allow)`),
	regexp.MustCompile(`❯\s*1\.\s*Yes`),
	regexp.MustCompile(`(?i)\(y/n\)\s*$`),
	regexp.MustCompile(`(?i)press\s+(enter|y)\s+to\s+(approve|allow|continue)`),
}

// HasPermissionPrompt scans the tail of a normalized capture for a
// permission-dialog glyph pattern (§4.4 step 5). Only the last few lines are
// checked since these dialogs always render at the bottom of the pane.
func HasPermissionPrompt(normalized string) bool {
	tail := lastLines(normalized, 8)
	for _, p := range permissionPatterns {
		if p.MatchString(tail) {
			return true
		}
	}
	return false
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
