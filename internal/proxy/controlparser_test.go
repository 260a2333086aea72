package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOctal_DecodesEscapesAndBackslash(t *testing.T) {
	assert.Equal(t, "a\nb", decodeOctal(`a\012b`))
	assert.Equal(t, `a\b`, decodeOctal(`a\\b`))
	assert.Equal(t, "hello", decodeOctal("hello"))
}

func TestControlParser_ParsesOutput(t *testing.T) {
	p := newControlParser()
	events := p.FeedBytes([]byte("%output %1 hello\\040world\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "output", events[0].kind)
	assert.Equal(t, "%1", events[0].paneID)
	assert.Equal(t, "hello world", events[0].data)
}

func TestControlParser_ParsesExtendedOutput(t *testing.T) {
	p := newControlParser()
	events := p.FeedBytes([]byte("%extended-output %1 12 : abc\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "output", events[0].kind)
	assert.Equal(t, "%1", events[0].paneID)
	assert.Equal(t, "abc", events[0].data)
}

func TestControlParser_BeginEndCapturesBlockLinesButNotNotifications(t *testing.T) {
	p := newControlParser()
	events := p.FeedBytes([]byte("%begin 123 1 0\nsome command output\n%window-add @3\n%end 123 1 0\n"))
	require.Len(t, events, 2)
	assert.Equal(t, "block-line", events[0].kind)
	assert.Equal(t, "some command output", events[0].data)
	assert.Equal(t, "window-add", events[1].kind)
	assert.Equal(t, "@3", events[1].windowID)
}

func TestControlParser_WindowAndSessionNotifications(t *testing.T) {
	p := newControlParser()
	events := p.FeedBytes([]byte("%window-close @2\n%window-renamed @3 newname\n%session-changed $1 mysession\n"))
	require.Len(t, events, 3)
	assert.Equal(t, "window-close", events[0].kind)
	assert.Equal(t, "@2", events[0].windowID)
	assert.Equal(t, "window-renamed", events[1].kind)
	assert.Equal(t, "@3", events[1].windowID)
	assert.Equal(t, "newname", events[1].name)
	assert.Equal(t, "session-changed", events[2].kind)
	assert.Equal(t, "$1", events[2].sessionID)
	assert.Equal(t, "mysession", events[2].name)
}

func TestControlParser_PauseContinueTracksPanes(t *testing.T) {
	p := newControlParser()
	events := p.FeedBytes([]byte("%pause %1\n"))
	require.Len(t, events, 1)
	assert.True(t, p.isPaused("%1"))

	events = p.FeedBytes([]byte("%continue %1\n"))
	require.Len(t, events, 1)
	assert.False(t, p.isPaused("%1"))
}

func TestControlParser_ExitEvent(t *testing.T) {
	p := newControlParser()
	events := p.FeedBytes([]byte("%exit detached\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "exit", events[0].kind)
	assert.Equal(t, "detached", events[0].reason)
}

func TestControlParser_StripsDCSPrefixAndNormalizesCRLF(t *testing.T) {
	p := newControlParser()
	events := p.FeedBytes([]byte("\x1bP1000p%output %1 hi\r\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].data)
}

func TestControlParser_BuffersPartialLinesAcrossFeeds(t *testing.T) {
	p := newControlParser()
	events := p.FeedBytes([]byte("%output %1 par"))
	assert.Empty(t, events)
	events = p.FeedBytes([]byte("tial\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "partial", events[0].data)
}
