package status

import (
	"regexp"
	"strings"
)

// spinnerRunes are animated glyphs stripped before comparison, carried over
// from the reference normalizer.
var spinnerRunes = []rune{
	'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏',
	'·', '✳', '✽', '✶', '✻', '✢',
}

var (
	dynamicStatusPattern = regexp.MustCompile(`\([^)]*\d+s\s*·[^)]*(?:tokens|↑|↓)[^)]*\)`)
	progressBarPattern   = regexp.MustCompile(`\[=*>?\s*\]\s*\d+%`)
	timePattern          = regexp.MustCompile(`\b\d{1,2}:\d{2}(:\d{2})?\b`)
	percentagePattern    = regexp.MustCompile(`\b\d{1,3}%`)
	downloadPattern      = regexp.MustCompile(`\d+(\.\d+)?[KMGT]?B/\d+(\.\d+)?[KMGT]?B`)
	blankLinesPattern    = regexp.MustCompile(`\n{3,}`)
)

// NormalizeContent strips ANSI escapes, control characters, and fast-moving
// cosmetic elements (spinners, elapsed-time counters, progress bars) so that
// two captures of genuinely idle output compare equal despite an
// animating status line (§4.4 step 3).
func NormalizeContent(content string) string {
	result := StripANSI(content)
	result = stripControlChars(result)

	// The status-line pattern keys on the "·" separator, which is also a
	// spinner rune, so it runs before spinner glyphs are stripped.
	result = dynamicStatusPattern.ReplaceAllString(result, "(STATUS)")

	for _, r := range spinnerRunes {
		result = strings.ReplaceAll(result, string(r), "")
	}

	result = progressBarPattern.ReplaceAllString(result, "[PROGRESS]")
	result = downloadPattern.ReplaceAllString(result, "X.XMB/Y.YMB")
	result = percentagePattern.ReplaceAllString(result, "N%")
	result = timePattern.ReplaceAllString(result, "HH:MM:SS")

	lines := strings.Split(result, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	result = strings.Join(lines, "\n")

	return blankLinesPattern.ReplaceAllString(result, "\n\n")
}

func stripControlChars(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if (r >= 32 && r != 127) || r == '\t' || r == '\n' || r == '\r' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
