// Package rank filters analyzed papers by score and picks the day's top N.
package rank

import (
	"sort"

	"github.com/TobiSchelling/PaperDigest/internal/database"
)

// Candidate is a paper with its analysis.
type Candidate struct {
	Paper    database.Paper
	Analysis database.Analysis
}

// Outcome describes a selection pass.
type Outcome struct {
	Passed   []Candidate // at or above the threshold, ranked
	Selected []Candidate // first Limit of Passed
}

// Less orders candidates by score descending, then published date
// descending, then ID ascending.
func Less(a, b Candidate) bool {
	if a.Analysis.Score != b.Analysis.Score {
		return a.Analysis.Score > b.Analysis.Score
	}
	if !a.Paper.Published.Equal(b.Paper.Published) {
		return a.Paper.Published.After(b.Paper.Published)
	}
	return a.Paper.ID < b.Paper.ID
}

// Select keeps candidates scoring at least minScore, ranks them and takes
// the first limit. A limit of zero or less selects nothing. The input slice
// is not modified.
func Select(cands []Candidate, minScore, limit int) Outcome {
	var passed []Candidate
	for _, c := range cands {
		if c.Analysis.Score >= minScore {
			passed = append(passed, c)
		}
	}
	sort.SliceStable(passed, func(i, j int) bool { return Less(passed[i], passed[j]) })

	out := Outcome{Passed: passed}
	if limit > 0 {
		out.Selected = passed[:min(limit, len(passed))]
	}
	return out
}

// Remaining returns how many more papers may be sent today given the daily
// cap and the deliveries already made. Never negative.
func Remaining(maxDaily, deliveredToday int) int {
	return max(maxDaily-deliveredToday, 0)
}
