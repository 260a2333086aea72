package pollgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEntriesNeedingMatch_S4_OrphanGateOnSizeChange(t *testing.T) {
	sessions := map[string]PersistedSession{
		"s1": {SessionID: "s1", CurrentWindow: "", LastKnownLogSize: 500},
	}
	opts := Options{MinTokenCount: 10}

	unchanged := []LogEntry{{SessionID: "s1", TokenCount: 50, FileSize: 500}}
	assert.Empty(t, GetEntriesNeedingMatch(unchanged, sessions, opts))

	grown := []LogEntry{{SessionID: "s1", TokenCount: 50, FileSize: 600}}
	got := GetEntriesNeedingMatch(grown, sessions, opts)
	assert.Len(t, got, 1)
}

func TestGetEntriesNeedingMatch_Property6_CurrentWindowAlwaysExcluded(t *testing.T) {
	sessions := map[string]PersistedSession{
		"s1": {SessionID: "s1", CurrentWindow: "agentboard:@1", LastKnownLogSize: 100},
	}
	entries := []LogEntry{{SessionID: "s1", TokenCount: 999, FileSize: 99999}}
	got := GetEntriesNeedingMatch(entries, sessions, Options{})
	assert.Empty(t, got)
}

func TestGetEntriesNeedingMatch_NewSessionAlwaysIncluded(t *testing.T) {
	entries := []LogEntry{{SessionID: "new-session", TokenCount: 50}}
	got := GetEntriesNeedingMatch(entries, nil, Options{MinTokenCount: 10})
	assert.Len(t, got, 1)
}

func TestGetEntriesNeedingMatch_DropsMissingSessionID(t *testing.T) {
	entries := []LogEntry{{SessionID: "", TokenCount: 50}}
	assert.Empty(t, GetEntriesNeedingMatch(entries, nil, Options{}))
}

func TestGetEntriesNeedingMatch_DropsCodexExec(t *testing.T) {
	entries := []LogEntry{{SessionID: "s1", IsCodexExec: true, TokenCount: 50}}
	assert.Empty(t, GetEntriesNeedingMatch(entries, nil, Options{}))
}

func TestGetEntriesNeedingMatch_BelowMinTokensDropped(t *testing.T) {
	entries := []LogEntry{{SessionID: "s1", TokenCount: 3}}
	assert.Empty(t, GetEntriesNeedingMatch(entries, nil, Options{MinTokenCount: 10}))
}

func TestGetEntriesNeedingMatch_EnrichmentSkippedBypassesMinTokens(t *testing.T) {
	entries := []LogEntry{{SessionID: "s1", TokenCount: NoEnrichment}}
	got := GetEntriesNeedingMatch(entries, nil, Options{MinTokenCount: 10})
	assert.Len(t, got, 1)
}

func TestGetEntriesNeedingMatch_SkipPatternSuppressesOrphan(t *testing.T) {
	sessions := map[string]PersistedSession{
		"s1": {SessionID: "s1", LastKnownLogSize: 100},
	}
	entries := []LogEntry{{SessionID: "s1", ProjectPath: "/home/me/scratch/foo", TokenCount: 50, FileSize: 200}}
	opts := Options{MinTokenCount: 10, SkipPatterns: []string{"/home/me/scratch/*"}}
	assert.Empty(t, GetEntriesNeedingMatch(entries, sessions, opts))
}

func TestShouldRunMatching_FalseWhenAllFiltered(t *testing.T) {
	entries := []LogEntry{{SessionID: "", TokenCount: 50}}
	assert.False(t, ShouldRunMatching(entries, nil, Options{}))
}

func TestShouldRunMatching_TrueWhenAnySurvives(t *testing.T) {
	entries := []LogEntry{{SessionID: "s1", TokenCount: 50}}
	assert.True(t, ShouldRunMatching(entries, nil, Options{MinTokenCount: 10}))
}
