// Package status infers a window's activity status from successive pane
// captures (§4.4), adapted from the reference tracker's content-hashing
// shape but driven by the simpler dimension/grace-window rules this system
// specifies rather than the reference's spike/hysteresis smoothing.
package status

import (
	"time"

	"github.com/tbharthur/agentboard/internal/registry"
)

// Entry is the per-window cache Update reads and replaces atomically.
type Entry struct {
	Width       int
	Height      int
	Normalized  string
	LastChanged time.Time
	LastStatus  registry.Status
}

// Tracker holds one Entry per window ID. Callers own their own
// synchronization; Tracker itself does no locking, matching how the refresh
// worker already serializes its poll cycle.
type Tracker struct {
	entries map[string]Entry
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]Entry)}
}

// Update applies the five-step inference rule to windowID's latest capture
// and returns the resulting status and the last-changed timestamp. now
// should be the poll cycle's monotonic reference time; workingGrace is the
// duration of unchanged output tolerated before the window is considered
// waiting rather than working.
func (t *Tracker) Update(windowID, content string, width, height int, now time.Time, workingGrace time.Duration) (registry.Status, time.Time) {
	prev, seen := t.entries[windowID]
	normalized := NormalizeContent(content)

	if !seen {
		t.entries[windowID] = Entry{
			Width: width, Height: height,
			Normalized:  normalized,
			LastChanged: now,
			LastStatus:  registry.StatusUnknown,
		}
		return registry.StatusUnknown, now
	}

	if prev.Width != width || prev.Height != height {
		// A resize does not imply activity; keep the previous status and
		// last-changed time, but adopt the new dimensions and content so the
		// next poll compares against the resized content.
		entry := prev
		entry.Width, entry.Height = width, height
		entry.Normalized = normalized
		t.entries[windowID] = entry
		return prev.LastStatus, prev.LastChanged
	}

	var statusResult registry.Status
	lastChanged := prev.LastChanged

	if normalized != prev.Normalized {
		statusResult = registry.StatusWorking
		lastChanged = now
	} else if now.Sub(prev.LastChanged) > workingGrace {
		statusResult = registry.StatusWaiting
	} else {
		statusResult = registry.StatusWorking
	}

	if HasPermissionPrompt(normalized) {
		statusResult = registry.StatusPermission
	}

	t.entries[windowID] = Entry{
		Width: width, Height: height,
		Normalized:  normalized,
		LastChanged: lastChanged,
		LastStatus:  statusResult,
	}
	return statusResult, lastChanged
}

// Evict drops cached entries for windows no longer present, called once per
// poll cycle with the surviving window ID set.
func (t *Tracker) Evict(live map[string]struct{}) {
	for id := range t.entries {
		if _, ok := live[id]; !ok {
			delete(t.entries, id)
		}
	}
}
