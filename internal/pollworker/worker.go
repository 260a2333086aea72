// Package pollworker periodically enumerates agent conversation logs,
// updates the session database, and matches newly-discovered logs to live
// tmux windows (§4.10).
package pollworker

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tbharthur/agentboard/internal/agentpaths"
	"github.com/tbharthur/agentboard/internal/logging"
	"github.com/tbharthur/agentboard/internal/matcher"
	"github.com/tbharthur/agentboard/internal/pollgate"
	"github.com/tbharthur/agentboard/internal/registry"
	"github.com/tbharthur/agentboard/internal/store"
)

// MinInterval is the smallest tick period honored regardless of
// configuration; an interval of zero or less disables polling entirely.
const MinInterval = 2 * time.Second

// DefaultBatchSize is the maximum number of candidate logs considered per tick.
const DefaultBatchSize = 25

// DefaultMinTokenCount is both the matching-eligibility floor and the
// new-row insertion floor (§4.6 rule 3, §4.10 step 5).
const DefaultMinTokenCount = 10

// RematchCooldown bounds how often an orphan row is re-attempted for a match.
const RematchCooldown = 60 * time.Second

// ScrollbackLines bounds the capture used to build matcher windows.
const ScrollbackLines = 10000

// Config bundles the deployment-specific knobs the worker needs.
type Config struct {
	Interval      time.Duration
	BatchSize     int
	MinTokenCount int
	SkipPatterns  []string

	// OnSessionActivated/OnSessionOrphaned are optional caller-supplied hooks,
	// fired after a log is matched to a window and after a session loses its
	// window, so the poll worker depends on no consumer package.
	OnSessionActivated func(sessionID, window string)
	OnSessionOrphaned  func(sessionID string)
}

// Driver is the subset of *tmux.Driver the worker depends on.
type Driver interface {
	GetTerminalScrollback(ctx context.Context, target string, lines int) (string, error)
}

// Worker is the log poll worker (§4.10).
type Worker struct {
	driver  Driver
	reg     *registry.Registry
	sess    *store.Store
	matcher *matcher.Matcher
	cfg     Config

	inFlight int32

	emptyLogCache map[string]time.Time // log path -> mtime when found too small
	rematchCache  map[string]time.Time // session ID -> last rematch attempt
}

// New constructs a Worker.
func New(driver Driver, reg *registry.Registry, sess *store.Store, m *matcher.Matcher, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MinTokenCount <= 0 {
		cfg.MinTokenCount = DefaultMinTokenCount
	}
	return &Worker{
		driver:        driver,
		reg:           reg,
		sess:          sess,
		matcher:       m,
		cfg:           cfg,
		emptyLogCache: make(map[string]time.Time),
		rematchCache:  make(map[string]time.Time),
	}
}

// Run blocks, ticking every cfg.Interval until ctx is cancelled. An
// interval <= 0 disables polling: Run returns immediately. A best-effort
// fsnotify watch on the log roots (§2.3) may wake the loop early; watch
// setup failures are logged and silently degrade to pure interval polling.
func (w *Worker) Run(ctx context.Context) {
	if w.cfg.Interval <= 0 {
		return
	}
	interval := w.cfg.Interval
	if interval < MinInterval {
		interval = MinInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	watchEvents := w.watchLogRoots(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tickGuarded(ctx)
		case <-watchEvents:
			w.tickGuarded(ctx)
		}
	}
}

// watchLogRoots starts a best-effort fsnotify watch over both log
// directories and returns a channel that receives a value on any watcher
// event. The watcher is closed when ctx is cancelled; the returned channel
// itself is never closed. Returns a nil channel (which never fires) if the
// watch cannot be established.
func (w *Worker) watchLogRoots(ctx context.Context) <-chan struct{} {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Component("pollworker").Debug().Err(err).Msg("fsnotify unavailable, falling back to interval polling")
		return nil
	}

	roots := agentpaths.ListLogSearchDirs()
	watched := 0
	for _, dir := range []string{roots.ClaudeDir, roots.CodexDir} {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logging.Component("pollworker").Debug().Err(err).Str("dir", dir).Msg("fsnotify watch failed for log root")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return nil
	}

	out := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}

// tickGuarded enforces the at-most-one-in-flight rule: a tick that fires
// while the previous is still running is a silent no-op.
func (w *Worker) tickGuarded(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.inFlight, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&w.inFlight, 0)

	if err := w.Tick(ctx); err != nil {
		logging.Component("pollworker").Error().Err(err).Msg("poll tick failed")
	}
}

type summary struct {
	logsScanned int
	newSessions int
	matches     int
	orphans     int
	errors      int
}

// Tick performs one full collect/gate/match/persist cycle and publishes a
// LogPollSummaryEvent.
func (w *Worker) Tick(ctx context.Context) error {
	start := time.Now()
	var sum summary

	batch := w.collectBatch()
	sum.logsScanned = len(batch)

	persisted, err := w.flattenPersistedSessions(ctx)
	if err != nil {
		return err
	}

	entries := make([]pollgate.LogEntry, 0, len(batch))
	byPath := make(map[string]candidateMeta, len(batch))
	for _, path := range batch {
		meta, err := w.resolveMetadata(path, persisted)
		if err != nil {
			sum.errors++
			continue
		}
		byPath[path] = meta
		entries = append(entries, pollgate.LogEntry{
			SessionID:   meta.sessionID,
			LogPath:     path,
			ProjectPath: meta.projectPath,
			TokenCount:  meta.tokenCount,
			IsCodexExec: meta.isCodexExec,
			FileSize:    meta.fileSize,
		})
	}

	needsMatch := pollgate.GetEntriesNeedingMatch(entries, persisted, pollgate.Options{
		MinTokenCount: w.cfg.MinTokenCount,
		SkipPatterns:  w.cfg.SkipPatterns,
	})

	matches := w.runMatcher(ctx, needsMatch, byPath)

	for _, entry := range entries {
		w.applyEntry(ctx, entry, byPath[entry.LogPath], matches, &sum)
	}

	w.reg.Publish(registry.LogPollSummaryEvent{
		LogsScanned: sum.logsScanned,
		NewSessions: sum.newSessions,
		Matches:     sum.matches,
		Orphans:     sum.orphans,
		Errors:      sum.errors,
		Duration:    time.Since(start),
	})
	return nil
}

// collectBatch enumerates every discoverable log, sorts by mtime descending,
// and returns at most cfg.BatchSize paths.
func (w *Worker) collectBatch() []string {
	roots := agentpaths.ListLogSearchDirs()
	paths := agentpaths.ScanAllLogDirs(roots)

	type withTime struct {
		path  string
		mtime time.Time
	}
	withTimes := make([]withTime, 0, len(paths))
	for _, p := range paths {
		times, err := agentpaths.GetLogTimes(p)
		if err != nil {
			continue
		}
		withTimes = append(withTimes, withTime{path: p, mtime: times.ModTime})
	}
	sort.Slice(withTimes, func(i, j int) bool { return withTimes[i].mtime.After(withTimes[j].mtime) })

	n := w.cfg.BatchSize
	if n > len(withTimes) {
		n = len(withTimes)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = withTimes[i].path
	}
	return out
}

func (w *Worker) flattenPersistedSessions(ctx context.Context) (map[string]pollgate.PersistedSession, error) {
	active, err := w.sess.GetActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	inactive, err := w.sess.GetInactiveSessions(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]pollgate.PersistedSession, len(active)+len(inactive))
	for _, r := range append(active, inactive...) {
		out[r.SessionID] = pollgate.PersistedSession{
			SessionID:        r.SessionID,
			CurrentWindow:    r.CurrentWindow,
			LastKnownLogSize: r.LastKnownLogSize,
		}
	}
	return out, nil
}

type candidateMeta struct {
	sessionID    string
	projectPath  string
	agentType    agentpaths.AgentKind
	isCodexExec  bool
	tokenCount   int
	fileSize     int64
	mtime        time.Time
	reusedCached bool
}

// resolveMetadata reuses a persisted row's metadata when the log path is
// already known (marking the token count enrichment-skipped), otherwise
// extracts it fresh from the log head.
func (w *Worker) resolveMetadata(path string, persisted map[string]pollgate.PersistedSession) (candidateMeta, error) {
	times, err := agentpaths.GetLogTimes(path)
	if err != nil {
		return candidateMeta{}, err
	}

	if row, ok := w.lookupByPath(path); ok {
		return candidateMeta{
			sessionID:    row.SessionID,
			projectPath:  row.ProjectPath,
			agentType:    agentpaths.AgentKind(row.AgentType),
			isCodexExec:  row.IsCodexExec,
			tokenCount:   pollgate.NoEnrichment,
			fileSize:     times.Size,
			mtime:        times.ModTime,
			reusedCached: true,
		}, nil
	}

	roots := agentpaths.ListLogSearchDirs()
	return candidateMeta{
		sessionID:   agentpaths.ExtractSessionID(path),
		projectPath: agentpaths.ExtractProjectPath(path),
		agentType:   agentpaths.InferAgentTypeFromPath(path, roots),
		isCodexExec: agentpaths.IsCodexSubagent(path),
		tokenCount:  agentpaths.EstimateTokenCount(path),
		fileSize:    times.Size,
		mtime:       times.ModTime,
	}, nil
}

func (w *Worker) lookupByPath(path string) (store.Row, bool) {
	row, err := w.sess.GetSessionByLogPath(context.Background(), path)
	if err != nil {
		return store.Row{}, false
	}
	return row, true
}

func (w *Worker) runMatcher(ctx context.Context, entries []pollgate.LogEntry, byPath map[string]candidateMeta) map[string]string {
	if len(entries) == 0 {
		return nil
	}

	candidates := make([]matcher.Candidate, 0, len(entries))
	for _, e := range entries {
		meta := byPath[e.LogPath]
		candidates = append(candidates, matcher.Candidate{
			Path:        e.LogPath,
			AgentType:   meta.agentType,
			ProjectPath: meta.projectPath,
		})
	}

	sessions := w.reg.GetAll()
	windows := make([]matcher.Window, 0, len(sessions))
	for _, s := range sessions {
		scrollback, err := w.driver.GetTerminalScrollback(ctx, s.ID, ScrollbackLines)
		if err != nil {
			continue
		}
		windows = append(windows, matcher.Window{
			Target:      s.ID,
			Scrollback:  scrollback,
			AgentType:   s.AgentType,
			ProjectPath: s.ProjectPath,
		})
	}

	return w.matcher.Match(ctx, windows, candidates)
}

// applyEntry implements §4.10 step 5 for one batch entry.
func (w *Worker) applyEntry(ctx context.Context, entry pollgate.LogEntry, meta candidateMeta, matches map[string]string, sum *summary) {
	matchedWindow := w.matchedWindowFor(entry.LogPath, matches)

	row, exists := w.lookupByPath(entry.LogPath)
	if exists {
		w.updateExisting(ctx, row, entry, meta, matchedWindow, sum)
		return
	}

	if cachedMtime, known := w.emptyLogCache[entry.LogPath]; known && cachedMtime.Equal(meta.mtime) {
		return
	}

	if meta.tokenCount != pollgate.NoEnrichment && meta.tokenCount < w.cfg.MinTokenCount {
		w.emptyLogCache[entry.LogPath] = meta.mtime
		return
	}
	delete(w.emptyLogCache, entry.LogPath)

	w.insertNew(ctx, entry, meta, matchedWindow, sum)
}

func (w *Worker) matchedWindowFor(logPath string, matches map[string]string) string {
	for window, path := range matches {
		if path == logPath {
			return window
		}
	}
	return ""
}

func (w *Worker) updateExisting(ctx context.Context, row store.Row, entry pollgate.LogEntry, meta candidateMeta, matchedWindow string, sum *summary) {
	if entry.FileSize != row.LastKnownLogSize {
		size := entry.FileSize
		now := time.Now()
		if err := w.sess.UpdateSession(ctx, row.ID, store.Patch{LastKnownLogSize: &size, LastActivityAt: &now}); err != nil {
			sum.errors++
			return
		}
	}

	if row.CurrentWindow != "" {
		return
	}

	last, attempted := w.rematchCache[row.SessionID]
	if attempted && time.Since(last) < RematchCooldown {
		return
	}
	w.rematchCache[row.SessionID] = time.Now()

	if matchedWindow == "" {
		return
	}

	w.claimWindow(ctx, matchedWindow, row.SessionID, sum)
	window := matchedWindow
	if err := w.sess.UpdateSession(ctx, row.ID, store.Patch{CurrentWindow: &window}); err != nil {
		sum.errors++
		return
	}
	sum.matches++
	if w.cfg.OnSessionActivated != nil {
		w.cfg.OnSessionActivated(row.SessionID, matchedWindow)
	}
}

func (w *Worker) insertNew(ctx context.Context, entry pollgate.LogEntry, meta candidateMeta, matchedWindow string, sum *summary) {
	if matchedWindow != "" {
		w.claimWindow(ctx, matchedWindow, entry.SessionID, sum)
	}

	now := time.Now()
	id, err := w.sess.InsertSession(ctx, store.Row{
		SessionID:        entry.SessionID,
		LogFilePath:      entry.LogPath,
		ProjectPath:      meta.projectPath,
		AgentType:        string(meta.agentType),
		CreatedAt:        now,
		LastActivityAt:   now,
		CurrentWindow:    matchedWindow,
		LastKnownLogSize: entry.FileSize,
		IsCodexExec:      meta.isCodexExec,
	})
	if err != nil {
		sum.errors++
		return
	}
	_ = id
	sum.newSessions++
	if matchedWindow != "" {
		sum.matches++
		if w.cfg.OnSessionActivated != nil {
			w.cfg.OnSessionActivated(entry.SessionID, matchedWindow)
		}
	}
}

// claimWindow orphans whatever session currently owns window, since
// windowed collisions always resolve in favor of the newly-matched entry.
func (w *Worker) claimWindow(ctx context.Context, window, newOwnerSessionID string, sum *summary) {
	prev, err := w.sess.GetSessionByWindow(ctx, window)
	if err != nil {
		return
	}
	if prev.SessionID == newOwnerSessionID {
		return
	}
	if err := w.sess.OrphanSession(ctx, prev.ID); err != nil {
		sum.errors++
		return
	}
	sum.orphans++
	if w.cfg.OnSessionOrphaned != nil {
		w.cfg.OnSessionOrphaned(prev.SessionID)
	}
}
