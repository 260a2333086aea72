package matcher

import "strings"

// Score is the ordered-user-message-matching result for one candidate log
// against one window's prompt list (§4.5 step 6).
type Score struct {
	MatchedCount int
	MatchedLen   int
}

// Less reports whether s is strictly weaker than other, compared
// lexicographically on (MatchedCount, MatchedLen).
func (s Score) Less(other Score) bool {
	if s.MatchedCount != other.MatchedCount {
		return s.MatchedCount < other.MatchedCount
	}
	return s.MatchedLen < other.MatchedLen
}

// Equal reports whether s and other are tied on both dimensions.
func (s Score) Equal(other Score) bool {
	return s.MatchedCount == other.MatchedCount && s.MatchedLen == other.MatchedLen
}

// ScoreOrdered walks prompts oldest-to-newest, advancing a cursor through
// logText each time a prompt is found at or after the cursor. A prompt that
// cannot be found anywhere after the cursor is skipped without resetting it.
func ScoreOrdered(logText string, promptsOldestFirst []string) Score {
	cursor := 0
	var score Score
	for _, p := range promptsOldestFirst {
		if p == "" {
			continue
		}
		idx := strings.Index(logText[cursor:], p)
		if idx < 0 {
			continue
		}
		cursor += idx + len(p)
		score.MatchedCount++
		score.MatchedLen += len(p)
	}
	return score
}
