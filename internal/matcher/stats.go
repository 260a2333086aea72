package matcher

import (
	"sync"
	"time"
)

// Stats is an optional observer that counts and times the matcher's I/O
// operations, for diagnosing poll-latency regressions (§4.5 Profiler). A nil
// *Stats is valid everywhere it's accepted; every method is a no-op on nil.
type Stats struct {
	mu sync.Mutex

	PaneCaptures     counter
	PromptExtracts   counter
	TailReads        counter
	RgListInvocs     counter
	RgJSONInvocs     counter
	TieBreakRetries  counter
}

type counter struct {
	Count int
	Total time.Duration
}

func (s *Stats) record(c *counter, d time.Duration) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Count++
	c.Total += d
}

func (s *Stats) PaneCapture(d time.Duration)    { s.record(&s.PaneCaptures, d) }
func (s *Stats) PromptExtract(d time.Duration)  { s.record(&s.PromptExtracts, d) }
func (s *Stats) TailRead(d time.Duration)       { s.record(&s.TailReads, d) }
func (s *Stats) RgList(d time.Duration)         { s.record(&s.RgListInvocs, d) }
func (s *Stats) RgJSON(d time.Duration)         { s.record(&s.RgJSONInvocs, d) }
func (s *Stats) TieBreakRetry(d time.Duration)  { s.record(&s.TieBreakRetries, d) }

// Snapshot returns a copy safe to read without holding the lock further.
func (s *Stats) Snapshot() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		PaneCaptures:    s.PaneCaptures,
		PromptExtracts:  s.PromptExtracts,
		TailReads:       s.TailReads,
		RgListInvocs:    s.RgListInvocs,
		RgJSONInvocs:    s.RgJSONInvocs,
		TieBreakRetries: s.TieBreakRetries,
	}
}
