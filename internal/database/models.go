package database

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Paper is a candidate fetched from the search API. Immutable once fetched.
type Paper struct {
	ID         string // arXiv ID without version suffix
	Title      string
	Abstract   string
	Authors    []string
	Categories []string
	Published  time.Time
	Updated    time.Time
	URL        string
	PDFURL     string
}

// Category labels. The set is closed; anything else is invalid.
const (
	CategorySwiftLanguage      = "Swift Language"
	CategoryIOSDevelopment     = "iOS Development"
	CategoryUIFrameworks       = "UI Frameworks"
	CategoryPerformanceTooling = "Performance & Tooling"
	CategoryOnDeviceML         = "On-Device AI/ML"
	CategoryGeneral            = "General"
)

// Categories lists every known category label in display order.
var Categories = []string{
	CategorySwiftLanguage,
	CategoryIOSDevelopment,
	CategoryUIFrameworks,
	CategoryPerformanceTooling,
	CategoryOnDeviceML,
	CategoryGeneral,
}

// IsCategory reports whether label is one of Categories.
func IsCategory(label string) bool {
	for _, c := range Categories {
		if c == label {
			return true
		}
	}
	return false
}

// KeywordCount is a keyword and how often it occurs.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// SortKeywords turns a frequency map into a list ordered by count
// descending, then keyword ascending.
func SortKeywords(freq map[string]int) []KeywordCount {
	out := make([]KeywordCount, 0, len(freq))
	for k, v := range freq {
		out = append(out, KeywordCount{Keyword: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}

// Analysis is the structured model output for one paper, plus the scores
// that produced its final relevance score.
type Analysis struct {
	PaperID          string
	Summary          string
	TechnicalSummary string
	BusinessImpact   string
	KeyPoints        []string
	Keywords         []KeywordCount
	Category         string
	ModelScore       int
	KeywordBonus     int
	Score            int
	Model            string
	AnalyzedAt       *string
}

// ErrInvalidAnalysis is returned by Analysis.Validate.
var ErrInvalidAnalysis = errors.New("invalid analysis")

// Validate rejects analyses whose score is out of range or whose category
// is not a known label.
func (a *Analysis) Validate() error {
	if a.Score < 0 || a.Score > 10 {
		return fmt.Errorf("%w: score %d outside 0-10", ErrInvalidAnalysis, a.Score)
	}
	if !IsCategory(a.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidAnalysis, a.Category)
	}
	if a.PaperID == "" {
		return fmt.Errorf("%w: missing paper id", ErrInvalidAnalysis)
	}
	return nil
}

// DeliveryRecord marks a paper as sent on a date.
type DeliveryRecord struct {
	PaperID    string
	SentDate   string
	RecordedAt *string
}

// DailyStats holds one run day's counts.
type DailyStats struct {
	Date       string
	Seen       int
	Analyzed   int
	Passed     int
	Delivered  int
	Categories map[string]int
	Keywords   map[string]int
}

// StatsAggregate sums DailyStats over a date range. Maps are never nil.
type StatsAggregate struct {
	Since      string
	Days       int
	Seen       int
	Analyzed   int
	Passed     int
	Delivered  int
	Categories map[string]int
	Keywords   map[string]int
}

// TopKeywords returns the k most frequent keywords.
func (s StatsAggregate) TopKeywords(k int) []KeywordCount {
	sorted := SortKeywords(s.Keywords)
	if k >= 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// Digest is the rendered message of one run, kept for the archive.
type Digest struct {
	ID           int64
	RunID        string
	Date         string
	Title        string
	BodyMarkdown string
	PaperCount   int
	GeneratedAt  *string
}

// Run statuses recorded in RunReport.Status.
const (
	RunSuccess        = "success"
	RunNoPapers       = "no_papers"
	RunDeliveryFailed = "delivery_failed"
	RunFailed         = "failed"
)

// RunReport records the outcome of one pipeline run.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	Status     string
	Candidates int
	Fresh      int
	Analyzed   int
	Passed     int
	Selected   int
	Delivered  int
	Error      string
}

// Totals contains aggregate database statistics.
type Totals struct {
	Papers             int
	Analyses           int
	Deliveries         int
	DeliveredThisMonth int
	Digests            int
	Runs               int
}
