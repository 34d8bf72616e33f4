package pattern

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
)

const (
	// confidenceK controls how fast repeated occurrences saturate the
	// frequency term.
	confidenceK = 5.0

	// minSessions is the number of distinct sessions needed for full
	// cross-session weight. A pattern seen many times in one session
	// stays below 1/minSessions of its frequency score.
	minSessions = 3.0
)

// Confidence scores an aggregate in [0, 1], saturating toward 1 as counts
// grow. The score is monotonically
// non-decreasing in both occurrence count and sessions seen:
//
//	(1 - exp(-count/k)) * min(1, sessions/minSessions)
func Confidence(rec *domain.PatternRecord) float64 {
	if rec.OccurrenceCount <= 0 || rec.SessionsSeen <= 0 {
		return 0
	}
	freq := 1 - math.Exp(-float64(rec.OccurrenceCount)/confidenceK)
	spread := math.Min(1, float64(rec.SessionsSeen)/minSessions)
	return freq * spread
}

func sortSnapshot(recs []domain.PatternRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		if recs[i].OccurrenceCount != recs[j].OccurrenceCount {
			return recs[i].OccurrenceCount > recs[j].OccurrenceCount
		}
		return recs[i].Identity < recs[j].Identity
	})
}
