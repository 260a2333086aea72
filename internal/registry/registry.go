package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/tbharthur/agentboard/internal/logging"
)

// Event is implemented by every value the registry (or a caller on its
// behalf, e.g. the broker publishing session-created) fans out to
// subscribers.
type Event interface {
	eventName() string
}

// SessionsEvent carries a full snapshot, emitted by ReplaceSessions.
type SessionsEvent struct{ Sessions []Session }

// SessionUpdateEvent carries one merged Session, emitted by UpdateSession.
type SessionUpdateEvent struct{ Session Session }

// SessionCreatedEvent is published by the broker after a successful
// session-create request; the registry does not produce it itself.
type SessionCreatedEvent struct{ Session Session }

// SessionRemovedEvent carries the ID of a Session no longer observed.
type SessionRemovedEvent struct{ ID string }

// LogPollSummaryEvent is published once per log poll worker tick (§4.10),
// regardless of whether the tick did any work.
type LogPollSummaryEvent struct {
	LogsScanned  int
	NewSessions  int
	Matches      int
	Orphans      int
	Errors       int
	Duration     time.Duration
}

func (SessionsEvent) eventName() string       { return "sessions" }
func (SessionUpdateEvent) eventName() string  { return "session-update" }
func (SessionCreatedEvent) eventName() string { return "session-created" }
func (SessionRemovedEvent) eventName() string { return "session-removed" }
func (LogPollSummaryEvent) eventName() string { return "log_poll" }

// subscriberBufSize bounds each listener's backlog (§5 backpressure); once
// full, a fresh SessionsEvent coalesces with the oldest pending one rather
// than blocking the registry's single critical section, following the
// reference eventbus's drop-on-full discipline generalized to a coalescing
// policy for snapshot events specifically.
const subscriberBufSize = 64

type subscriber struct {
	id int
	ch chan Event
}

// Registry is the observable collection of Session values keyed by ID
// (§4.7). Only the refresh worker calls ReplaceSessions; only the tmux
// driver adapter calls UpdateSession. Both mutate the map and emit events
// under a single critical section per call.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session

	subMu     sync.RWMutex
	subs      map[int]*subscriber
	nextSubID int
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		subs:     make(map[int]*subscriber),
	}
}

// Subscribe registers a new listener and returns its ID (for Unsubscribe)
// and a receive-only channel of events. Events for a given session ID are
// observed in the order the registry emitted them on a single listener; no
// cross-session ordering is promised.
func (r *Registry) Subscribe() (int, <-chan Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.nextSubID++
	id := r.nextSubID
	ch := make(chan Event, subscriberBufSize)
	r.subs[id] = &subscriber{id: id, ch: ch}
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (r *Registry) Unsubscribe(id int) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if sub, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(sub.ch)
	}
}

// ReplaceSessions atomically swaps the registry contents. For each
// surviving ID, the later of the existing lastActivity vs. the incoming one
// is preserved. Emits exactly one SessionsEvent with the new full list,
// then one SessionRemovedEvent per ID dropped.
func (r *Registry) ReplaceSessions(next []Session) {
	r.mu.Lock()

	nextByID := make(map[string]Session, len(next))
	for _, s := range next {
		nextByID[s.ID] = s
	}

	merged := make(map[string]Session, len(next))
	for id, incoming := range nextByID {
		if existing, ok := r.sessions[id]; ok && existing.LastActivity.After(incoming.LastActivity) {
			incoming.LastActivity = existing.LastActivity
		}
		merged[id] = incoming
	}

	var removed []string
	for id := range r.sessions {
		if _, ok := merged[id]; !ok {
			removed = append(removed, id)
		}
	}

	r.sessions = merged
	snapshot := r.sortedSnapshotLocked()
	r.mu.Unlock()

	r.broadcast(SessionsEvent{Sessions: snapshot})
	for _, id := range removed {
		r.broadcast(SessionRemovedEvent{ID: id})
	}
}

// UpdateSession merges patch into the existing entry and emits a single
// SessionUpdateEvent. No-op if id is not currently registered.
func (r *Registry) UpdateSession(id string, patch Patch) {
	r.mu.Lock()
	existing, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	updated := patch.apply(existing)
	r.sessions[id] = updated
	r.mu.Unlock()

	r.broadcast(SessionUpdateEvent{Session: updated})
}

// GetAll returns a snapshot of every Session, sorted by ID for determinism.
func (r *Registry) GetAll() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedSnapshotLocked()
}

// Get returns the Session for id, if present.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Publish fans out an externally-constructed event (e.g. SessionCreatedEvent
// from the broker after a successful session-create) through the same
// subscriber channels as the registry's own events.
func (r *Registry) Publish(event Event) {
	r.broadcast(event)
}

func (r *Registry) sortedSnapshotLocked() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) broadcast(event Event) {
	r.subMu.RLock()
	targets := make([]*subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		targets = append(targets, sub)
	}
	r.subMu.RUnlock()

	for _, sub := range targets {
		r.deliver(sub, event)
	}
}

func (r *Registry) deliver(sub *subscriber, event Event) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	snapshot, isSnapshot := event.(SessionsEvent)
	if !isSnapshot {
		logging.Component("registry").Debug().Str("event", event.eventName()).Msg("listener buffer full, event dropped")
		return
	}

	// Coalesce: drop the oldest pending event and retry once so a slow
	// listener always converges on the latest snapshot instead of an
	// arbitrary stale one.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snapshot:
	default:
		logging.Component("registry").Debug().Int("sessions", len(snapshot.Sessions)).Msg("listener buffer full after coalesce, snapshot dropped")
	}
}
