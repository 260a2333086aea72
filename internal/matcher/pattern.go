package matcher

import "regexp"

// ToPattern converts a cleaned prompt into an rg-compatible regex: regex
// meta-characters are escaped, and each run of whitespace becomes `\s+` so
// the pattern still matches a log line that wrapped or re-flowed whitespace
// differently than the terminal rendering did.
func ToPattern(prompt string) string {
	escaped := regexp.QuoteMeta(prompt)
	return whitespaceRun.ReplaceAllString(escaped, `\s+`)
}
