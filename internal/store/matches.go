package store

import "time"

// matchSet is the ranked result of one query, captured on the first
// FindMatches call and handed out in batches. Later mutations never shift
// it: a removed document only leaves a stale ID behind, which resolves to
// no reference.
type matchSet struct {
	ids    []int64
	scores []float32
	pos    int
}

// take returns up to maxCount further matches. It hands out at least one
// match when any remain and stops early once deadline has passed, so every
// call makes progress.
func (m *matchSet) take(maxCount int, deadline time.Time) Batch {
	start := m.pos
	end := min(start+maxCount, len(m.ids))
	for m.pos < end {
		m.pos++
		if !time.Now().Before(deadline) {
			break
		}
	}
	return Batch{
		IDs:    m.ids[start:m.pos:m.pos],
		Scores: m.scores[start:m.pos:m.pos],
		More:   m.pos < len(m.ids),
	}
}

