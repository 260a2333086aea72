package matcher

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tbharthur/agentboard/internal/agentpaths"
	"github.com/tbharthur/agentboard/internal/registry"
	"github.com/tbharthur/agentboard/pkg/executil"
)

// Window is the matcher's view of a live tmux window: enough to extract
// prompts and apply the agent-kind/project-path filters.
type Window struct {
	Target      string
	Scrollback  string
	AgentType   registry.AgentKind // empty if unknown
	ProjectPath string             // empty if unknown
}

// Candidate is one discovered JSONL log file, pre-classified by the caller
// (the poll worker, via agentpaths) before matching begins.
type Candidate struct {
	Path        string
	AgentType   agentpaths.AgentKind
	ProjectPath string
}

// Matcher resolves Window → Candidate.Path for a batch of windows and
// candidate logs (§4.5).
type Matcher struct {
	exec  executil.Executor
	stats *Stats
}

// New constructs a Matcher. stats may be nil to disable instrumentation.
func New(exec executil.Executor, stats *Stats) *Matcher {
	return &Matcher{exec: exec, stats: stats}
}

// Match returns, for each window target that was resolved, the log path it
// was matched to. Unresolved windows are simply absent from the result; a
// matching pass is always best-effort (§4.5 Failure semantics).
func (m *Matcher) Match(ctx context.Context, windows []Window, candidates []Candidate) map[string]string {
	byPath := make(map[string]Candidate, len(candidates))
	allPaths := make([]string, 0, len(candidates))
	for _, c := range candidates {
		byPath[c.Path] = c
		allPaths = append(allPaths, c.Path)
	}

	type proposal struct {
		target string
		path   string
		score  Score
	}
	var proposals []proposal

	for _, w := range windows {
		path, score, ok := m.matchWindow(ctx, w, allPaths, byPath)
		if !ok {
			continue
		}
		proposals = append(proposals, proposal{target: w.Target, path: path, score: score})
	}

	// Final sweep: resolve same-log collisions across windows. The
	// strictly-higher score wins; an exact tie drops the log for both.
	byLogPath := make(map[string][]proposal)
	for _, p := range proposals {
		byLogPath[p.path] = append(byLogPath[p.path], p)
	}

	result := make(map[string]string, len(proposals))
	for path, ps := range byLogPath {
		if len(ps) == 1 {
			result[ps[0].target] = path
			continue
		}
		sort.Slice(ps, func(i, j int) bool { return ps[j].score.Less(ps[i].score) })
		if ps[0].score.Equal(ps[1].score) {
			continue // tie: drop the log from the result entirely
		}
		result[ps[0].target] = path
	}
	return result
}

// matchWindow runs the narrow-then-filter-then-score pipeline for a single
// window and returns the chosen log path and the score it was chosen with.
func (m *Matcher) matchWindow(ctx context.Context, w Window, allPaths []string, byPath map[string]Candidate) (string, Score, bool) {
	start := time.Now()
	prompts := ExtractPrompts(w.Scrollback)
	m.stats.PromptExtract(time.Since(start))
	if len(prompts) == 0 {
		return "", Score{}, false
	}

	sorted := append([]string(nil), prompts...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	currentSet := allPaths
	disambiguated := false
	usedShortPrompt := false

	for _, p := range sorted {
		if len(currentSet) <= 1 {
			disambiguated = true
			break
		}
		if len(p) < MinPromptLen {
			usedShortPrompt = true
			break
		}

		pattern := ToPattern(p)
		rgStart := time.Now()
		hits, err := SearchPaths(ctx, m.exec, pattern, currentSet)
		m.stats.RgList(time.Since(rgStart))
		if err != nil {
			continue
		}
		if len(hits) == 0 {
			continue
		}
		narrowed := intersect(currentSet, hits)
		if len(narrowed) > 0 {
			currentSet = narrowed
		}
	}
	if len(currentSet) <= 1 {
		disambiguated = true
	}

	// Apply the agent-kind / project-path filter regardless of whether
	// pattern narrowing alone disambiguated the set.
	filtered := filterCandidates(currentSet, byPath, w)
	if len(filtered) > 0 {
		currentSet = filtered
	}

	if len(currentSet) == 0 {
		return "", Score{}, false
	}
	if len(currentSet) == 1 {
		return currentSet[0], Score{MatchedCount: len(prompts)}, true
	}
	if !disambiguated && usedShortPrompt && len(filtered) != 1 {
		// Below the disambiguation threshold and no filter narrowed it: abort.
		return "", Score{}, false
	}

	oldestFirst := reversed(prompts)
	return m.scoreCandidates(currentSet, oldestFirst)
}

// scoreCandidates implements the two-tier search (§4.5 Two-tier search):
// tail-only scores first, escalating to a full-file rg --json rescoring only
// when the tail scores are tied.
func (m *Matcher) scoreCandidates(paths []string, oldestFirstPrompts []string) (string, Score, bool) {
	type scored struct {
		path  string
		score Score
	}

	tailScores := make([]scored, 0, len(paths))
	for _, path := range paths {
		t0 := time.Now()
		tail := ReadTail(path, TailSize)
		m.stats.TailRead(time.Since(t0))
		tailScores = append(tailScores, scored{path: path, score: ScoreOrdered(tail, oldestFirstPrompts)})
	}
	sort.Slice(tailScores, func(i, j int) bool { return tailScores[j].score.Less(tailScores[i].score) })

	if tailScores[0].score.MatchedCount >= 2 && (len(tailScores) == 1 || !tailScores[0].score.Equal(tailScores[1].score)) {
		return tailScores[0].path, tailScores[0].score, true
	}

	// Tail scores tied or inconclusive: rescore with full-file rg --json.
	retryStart := time.Now()
	full := make([]scored, 0, len(paths))
	for _, path := range paths {
		full = append(full, scored{path: path, score: m.scoreFullFile(path, oldestFirstPrompts)})
	}
	m.stats.TieBreakRetry(time.Since(retryStart))
	sort.Slice(full, func(i, j int) bool { return full[j].score.Less(full[i].score) })

	if len(full) == 1 || !full[0].score.Equal(full[1].score) {
		return full[0].path, full[0].score, true
	}
	return "", Score{}, false
}

func (m *Matcher) scoreFullFile(path string, oldestFirstPrompts []string) Score {
	var matchedLines []int
	var score Score
	for _, p := range oldestFirstPrompts {
		if len(p) < MinPromptLen {
			continue
		}
		t0 := time.Now()
		matches, err := SearchFileJSON(context.Background(), m.exec, ToPattern(p), path)
		m.stats.RgJSON(time.Since(t0))
		if err != nil || len(matches) == 0 {
			continue
		}
		line := matches[0].LineNumber
		if len(matchedLines) > 0 && line < matchedLines[len(matchedLines)-1] {
			continue // out of order, doesn't count
		}
		matchedLines = append(matchedLines, line)
		score.MatchedCount++
		score.MatchedLen += len(p)
	}
	return score
}

func filterCandidates(paths []string, byPath map[string]Candidate, w Window) []string {
	var out []string
	for _, path := range paths {
		c, ok := byPath[path]
		if !ok {
			continue
		}
		if w.AgentType != "" && string(c.AgentType) != string(w.AgentType) {
			continue
		}
		if w.ProjectPath != "" && c.ProjectPath != "" && !pathsRelated(w.ProjectPath, c.ProjectPath) {
			continue
		}
		out = append(out, path)
	}
	return out
}

// pathsRelated reports whether a and b are the same directory or one is an
// ancestor of the other, after cleaning.
func pathsRelated(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if a == b {
		return true
	}
	return strings.HasPrefix(a+string(filepath.Separator), b+string(filepath.Separator)) ||
		strings.HasPrefix(b+string(filepath.Separator), a+string(filepath.Separator))
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
