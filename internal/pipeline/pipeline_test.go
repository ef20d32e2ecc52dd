package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PaperDigest/internal/analyze"
	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/llm"
	"github.com/TobiSchelling/PaperDigest/internal/logging"
	"github.com/TobiSchelling/PaperDigest/internal/metrics"
	"github.com/TobiSchelling/PaperDigest/internal/notify"
	"github.com/TobiSchelling/PaperDigest/internal/search"
)

var runTime = time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC)

type fakeSearcher struct {
	papers []database.Paper
	err    error
}

func (f *fakeSearcher) Search(context.Context, search.Query) (*search.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &search.Result{Papers: f.papers, Found: len(f.papers)}, nil
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	scores map[string]int
	errs   map[string]error
	calls  int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, p database.Paper) (database.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[p.ID]; err != nil {
		return database.Analysis{}, err
	}
	return database.Analysis{
		PaperID:    p.ID,
		Summary:    "Summary of " + p.ID,
		KeyPoints:  []string{"point"},
		Keywords:   []database.KeywordCount{{Keyword: "swiftui", Count: 1}},
		Category:   database.CategoryUIFrameworks,
		ModelScore: f.scores[p.ID],
		Score:      f.scores[p.ID],
		Model:      "fake",
	}, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	sent    []notify.Digest
	errors  []error
	sendErr error
}

func (f *fakeNotifier) Send(_ context.Context, d notify.Digest) error {
	f.sent = append(f.sent, d)
	return f.sendErr
}

func (f *fakeNotifier) SendError(_ context.Context, _ string, runErr error) error {
	f.errors = append(f.errors, runErr)
	return nil
}

type fakeArchiver struct {
	keys []string
}

func (f *fakeArchiver) Upload(_ context.Context, date, runID, _ string) (string, error) {
	key := date + "/" + runID
	f.keys = append(f.keys, key)
	return key, nil
}

type fixture struct {
	db       *database.DB
	searcher *fakeSearcher
	analyzer *fakeAnalyzer
	notifier *fakeNotifier
	archiver *fakeArchiver
	metrics  *metrics.Manager
	pipeline *Pipeline
}

func newFixture(t *testing.T, scores map[string]int) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var papers []database.Paper
	for i := 1; i <= len(scores); i++ {
		id := fmt.Sprintf("2602.0000%d", i)
		papers = append(papers, database.Paper{
			ID:        id,
			Title:     "Paper " + id,
			Abstract:  "SwiftUI layout.",
			Authors:   []string{"A. Author"},
			Published: runTime.Add(-time.Duration(i) * time.Hour),
			URL:       "https://arxiv.org/abs/" + id,
		})
	}

	f := &fixture{
		db:       db,
		searcher: &fakeSearcher{papers: papers},
		analyzer: &fakeAnalyzer{scores: scores, errs: map[string]error{}},
		notifier: &fakeNotifier{},
		archiver: &fakeArchiver{},
		metrics:  metrics.NewManager(),
	}
	f.pipeline = New(Deps{
		DB:       db,
		Searcher: f.searcher,
		Analyzer: f.analyzer,
		Notifier: f.notifier,
		Archiver: f.archiver,
		Metrics:  f.metrics,
		Logger:   logging.Discard(),
	}, Settings{MinScore: 7, MaxPapers: 3, TopKeywords: 5, RollupDays: 30, Workers: 3})
	f.pipeline.now = func() time.Time { return runTime }
	n := 0
	f.pipeline.newID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
	return f
}

func ids(d notify.Digest) []string {
	var out []string
	for _, c := range d.Papers {
		out = append(out, c.Paper.ID)
	}
	return out
}

func TestRunDeliversTopPapers(t *testing.T) {
	f := newFixture(t, map[string]int{
		"2602.00001": 9, "2602.00002": 7, "2602.00003": 9, "2602.00004": 6, "2602.00005": 8,
	})
	ctx := context.Background()

	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []string{"2602.00001", "2602.00003", "2602.00005"}, ids(f.notifier.sent[0]))
	assert.Equal(t, database.RunSuccess, res.Report.Status)
	assert.Equal(t, StateDone, res.Report.State)
	assert.Equal(t, 5, res.Report.Fresh)
	assert.Equal(t, 4, res.Report.Passed)
	assert.Equal(t, 3, res.Report.Delivered)

	delivered, err := f.db.CountDeliveriesOn(ctx, "2026-02-06")
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)

	cached, err := f.db.GetAnalysis(ctx, "2602.00004")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 6, cached.Score)

	digest, err := f.db.GetDigest(ctx, "2026-02-06")
	require.NoError(t, err)
	require.NotNil(t, digest)
	assert.Equal(t, "run-1", digest.RunID)
	assert.Equal(t, 3, digest.PaperCount)
	assert.Equal(t, []string{"2026-02-06/run-1"}, f.archiver.keys)

	stats, err := f.db.GetDailyStats(ctx, "2026-02-06")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 5, stats.Seen)
	assert.Equal(t, 5, stats.Analyzed)
	assert.Equal(t, 4, stats.Passed)
	assert.Equal(t, 3, stats.Delivered)
	assert.Equal(t, 5, stats.Categories[database.CategoryUIFrameworks])

	last, err := f.db.GetLastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, database.RunSuccess, last.Status)
}

func TestRunTwiceSendsNothingNew(t *testing.T) {
	f := newFixture(t, map[string]int{
		"2602.00001": 9, "2602.00002": 7, "2602.00003": 9, "2602.00004": 6, "2602.00005": 8,
	})
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)

	require.Len(t, f.notifier.sent, 2)
	assert.True(t, f.notifier.sent[1].StatsOnly())
	assert.Equal(t, database.RunNoPapers, res.Report.Status)
	assert.Equal(t, 2, res.Report.Fresh)
	assert.Equal(t, 5, f.analyzer.callCount(), "cached analyses are reused")

	delivered, err := f.db.CountDeliveriesOn(ctx, "2026-02-06")
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)
}

func TestRunWithoutCandidates(t *testing.T) {
	f := newFixture(t, map[string]int{})

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.notifier.sent, 1)
	d := f.notifier.sent[0]
	assert.True(t, d.StatsOnly())
	require.NotNil(t, d.Stats.Rollup)
	assert.Equal(t, 0, d.Stats.Today.Seen)
	assert.Equal(t, database.RunNoPapers, res.Report.Status)
	assert.Zero(t, f.analyzer.callCount())
}

func TestRunSkipsMalformedAnalysis(t *testing.T) {
	f := newFixture(t, map[string]int{"2602.00001": 9, "2602.00002": 8, "2602.00003": 8})
	f.analyzer.errs["2602.00002"] = &analyze.ValidationError{PaperID: "2602.00002", Field: "relevance_score", Reason: "missing"}
	ctx := context.Background()

	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"2602.00001", "2602.00003"}, ids(f.notifier.sent[0]))
	assert.Equal(t, 2, res.Report.Analyzed)

	cached, err := f.db.GetAnalysis(ctx, "2602.00002")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestRunDeliveryFailure(t *testing.T) {
	f := newFixture(t, map[string]int{"2602.00001": 9, "2602.00002": 8})
	f.notifier.sendErr = fmt.Errorf("%w: channel_not_found", notify.ErrDeliveryFailed)
	ctx := context.Background()

	res, err := f.pipeline.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, notify.ErrDeliveryFailed)
	assert.Equal(t, database.RunDeliveryFailed, res.Report.Status)

	// Recorded before the send, so they are not offered again.
	sent, err := f.db.HasBeenDelivered(ctx, "2602.00001")
	require.NoError(t, err)
	assert.True(t, sent)

	last, err := f.db.GetLastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.RunDeliveryFailed, last.Status)
}

func TestRunSearchFailure(t *testing.T) {
	f := newFixture(t, map[string]int{"2602.00001": 9})
	f.searcher.err = search.ErrAllTermsFailed

	res, err := f.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, search.ErrAllTermsFailed)
	assert.Equal(t, database.RunFailed, res.Report.Status)
	assert.Equal(t, StateFetch, res.Report.State)
	assert.Empty(t, f.notifier.sent)
	require.Len(t, f.notifier.errors, 1)

	last, err := f.db.GetLastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.RunFailed, last.Status)
}

func TestRunProviderRejectsCredentials(t *testing.T) {
	f := newFixture(t, map[string]int{"2602.00001": 9, "2602.00002": 8})
	rejected := fmt.Errorf("analyzing 2602.00002: openai: %w", &llm.APIError{StatusCode: 401, Body: "invalid_api_key"})
	f.analyzer.errs["2602.00002"] = rejected
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnalysisFailed)
	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Empty(t, f.notifier.sent)
	assert.Len(t, f.notifier.errors, 1)

	n, err := f.db.CountDeliveriesOn(ctx, "2026-02-06")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunProviderNotConfigured(t *testing.T) {
	f := newFixture(t, map[string]int{"2602.00001": 9})
	f.analyzer.errs["2602.00001"] = fmt.Errorf("openai: %w", llm.ErrNotConfigured)

	_, err := f.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, ErrAnalysisFailed)
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
	assert.Empty(t, f.notifier.sent)
}

func TestRunDropsTimedOutPaper(t *testing.T) {
	f := newFixture(t, map[string]int{"2602.00001": 9})
	f.analyzer.errs["2602.00001"] = fmt.Errorf("analyzing 2602.00001: %w", context.DeadlineExceeded)
	ctx := context.Background()

	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.RunNoPapers, res.Report.Status)
	assert.Empty(t, f.notifier.errors)
	require.Len(t, f.notifier.sent, 1)
	assert.True(t, f.notifier.sent[0].StatsOnly())

	cached, err := f.db.GetAnalysis(ctx, "2602.00001")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestRunSkipsServerErrorsForSomePapers(t *testing.T) {
	f := newFixture(t, map[string]int{"2602.00001": 9, "2602.00002": 8})
	f.analyzer.errs["2602.00002"] = &llm.APIError{StatusCode: 503, Body: "overloaded"}

	_, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []string{"2602.00001"}, ids(f.notifier.sent[0]))
}

func TestRunHonorsDailyRoom(t *testing.T) {
	f := newFixture(t, map[string]int{"2602.00001": 9, "2602.00002": 9})
	ctx := context.Background()
	require.NoError(t, f.db.RecordDelivery(ctx, "2602.09999", "2026-02-06"))
	require.NoError(t, f.db.RecordDelivery(ctx, "2602.09998", "2026-02-06"))

	res, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Delivered)
	assert.Equal(t, []string{"2602.00001"}, ids(f.notifier.sent[0]))
}
