package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidSessionID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"simple", "claude-session-123", true},
		{"with_colon", "agentboard:@1", true},
		{"with_dot", "sess.v1", true},
		{"empty", "", false},
		{"with_space", "has space", false},
		{"with_slash", "has/slash", false},
		{"with_semicolon", "rm -rf;ls", false},
		{"too_long", strings.Repeat("a", MaxLength+1), false},
		{"exactly_max", strings.Repeat("a", MaxLength), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidSessionID(tt.in))
		})
	}
}

func TestIsValidTmuxTarget(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"window_id_with_session", "agentboard:@1", true},
		{"window_id_only", "@42", true},
		{"window_name_with_session", "agentboard:main", true},
		{"window_name_only", "main", true},
		{"empty", "", false},
		{"empty_session_prefix", ":@1", false},
		{"empty_after_colon", "agentboard:", false},
		{"session_with_space", "my session:@1", false},
		{"injection_attempt", "agentboard:@1; rm -rf /", false},
		{"too_long", strings.Repeat("a", MaxLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidTmuxTarget(tt.in))
		})
	}
}
