package scancache

import (
	"time"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/metrics"
)

// Candidate is a private copy of a matching entry together with its score
// terms. BSSScore and NegSecInfo of the embedded entry are filled in.
type Candidate struct {
	Entry
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// CandidateList is an ordered candidate list owned by the caller.
type CandidateList []*Candidate

// Release is a no-op kept so callers can hand a list back symmetrically with
// GetCandidates.
func (CandidateList) Release() {}

// better reports whether a ranks ahead of b.
func better(a, b *Candidate) bool {
	if a.BSSScore != b.BSSScore {
		return a.BSSScore > b.BSSScore
	}
	return a.RSSIRaw > b.RSSIRaw
}

// GetCandidates ages out stale entries and returns copies of every entry
// matching f, ordered by descending score and raw RSSI. With f.SkipScoring
// the list keeps table order and zero scores, except that a prioritized
// BSSID hint is moved to the front.
//
// An entry that cannot be copied is dropped from the list. The call fails
// with CodeOutOfMemory only when entries matched but none could be copied.
func (c *Context) GetCandidates(f *Filter) (CandidateList, error) {
	start := time.Now()
	if f == nil {
		f = &Filter{}
	}
	c.AgeOut()

	now := c.opts.Clock.Now()
	cfg := c.scoring.Load()
	var (
		list     CandidateList
		matched  int
		failures int
	)

	c.walk(func(n *scanNode) bool {
		sec, ok := c.matcher.Match(f, n.entry, now)
		if !ok {
			return true
		}
		matched++
		if !c.allocOK() {
			failures++
			c.allocFailed()
			return true
		}

		cand := &Candidate{Entry: *n.entry.Clone()}
		cand.NegSecInfo = sec
		hinted := f.BSSIDHintPriority && !f.BSSIDHint.IsZero() && cand.BSSID == f.BSSIDHint
		switch {
		case hinted:
			cand.BSSScore = MaxBSSScore
		case !f.SkipScoring:
			cand.Breakdown = ScoreWithBreakdown(&cand.Entry, cfg, f.pclWeight(cand.Channel))
			cand.BSSScore = cand.Breakdown.Total
		}

		switch {
		case !f.SkipScoring:
			list = insertSorted(list, cand)
		case hinted:
			list = append(CandidateList{cand}, list...)
		default:
			list = append(list, cand)
		}
		return true
	})

	if matched > 0 && len(list) == 0 && failures > 0 {
		c.log.Warn("No candidate could be copied", "matched", matched)
		return nil, errors.ErrOutOfMemory(c.iface)
	}

	elapsed := time.Since(start)
	labels := metrics.Labels{metrics.LabelInterface: c.iface}
	c.opts.Metrics.Counter(metrics.MetricCandidateQueries, labels)
	c.opts.Metrics.Histogram(metrics.MetricCandidateCount, float64(len(list)), labels)
	c.opts.Metrics.Histogram(metrics.MetricCandidateDuration, elapsed.Seconds(), labels)
	if c.opts.Collector != nil {
		c.opts.Collector.RecordCandidateQuery(c.iface, len(list), elapsed)
	}
	c.log.Debug("Assembled candidate list", "matched", matched, "returned", len(list),
		"alloc_failures", failures)
	return list, nil
}

// insertSorted places cand before the first element it ranks ahead of.
func insertSorted(list CandidateList, cand *Candidate) CandidateList {
	for i, cur := range list {
		if better(cand, cur) {
			list = append(list, nil)
			copy(list[i+1:], list[i:])
			list[i] = cand
			return list
		}
	}
	return append(list, cand)
}
