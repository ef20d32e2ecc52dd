// Package pipeline sequences one digest run: search, dedup, analysis,
// selection, delivery and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/PaperDigest/internal/analyze"
	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/metrics"
	"github.com/TobiSchelling/PaperDigest/internal/notify"
	"github.com/TobiSchelling/PaperDigest/internal/rank"
	"github.com/TobiSchelling/PaperDigest/internal/search"
)

// Run states, in order.
const (
	StateFetch   = "FETCH"
	StateDedup   = "DEDUP"
	StateAnalyze = "ANALYZE"
	StateFilter  = "FILTER"
	StateRank    = "RANK"
	StateNotify  = "NOTIFY"
	StatePersist = "PERSIST"
	StateDone    = "DONE"
)

// ErrAnalysisFailed is returned when no paper could be analyzed because
// the provider itself kept failing.
var ErrAnalysisFailed = errors.New("analysis failed for every paper")

// Searcher finds candidate papers.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

// Analyzer produces an Analysis for one paper.
type Analyzer interface {
	Analyze(ctx context.Context, p database.Paper) (database.Analysis, error)
}

// Notifier delivers digests and failure notices.
type Notifier interface {
	Send(ctx context.Context, d notify.Digest) error
	SendError(ctx context.Context, date string, runErr error) error
}

// Archiver stores a copy of each digest's Markdown.
type Archiver interface {
	Upload(ctx context.Context, date, runID, body string) (string, error)
}

// Settings are the per-run knobs taken from configuration.
type Settings struct {
	Query       search.Query
	MinScore    int
	MaxPapers   int
	TopKeywords int
	RollupDays  int
	Workers     int
}

// Deps are the collaborators of a Pipeline. Archiver and Metrics may be nil.
type Deps struct {
	DB       *database.DB
	Searcher Searcher
	Analyzer Analyzer
	Notifier Notifier
	Archiver Archiver
	Metrics  *metrics.Manager
	Logger   *slog.Logger
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID  string
	Date   string
	Steps  []StepResult
	Report database.RunReport
	Digest notify.Digest
}

// Pipeline runs the daily digest.
type Pipeline struct {
	db       *database.DB
	searcher Searcher
	analyzer Analyzer
	notifier Notifier
	archiver Archiver
	metrics  *metrics.Manager
	settings Settings
	log      *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a pipeline.
func New(deps Deps, s Settings) *Pipeline {
	if s.Workers <= 0 {
		s.Workers = 1
	}
	if s.RollupDays <= 0 {
		s.RollupDays = 30
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		db:       deps.DB,
		searcher: deps.Searcher,
		analyzer: deps.Analyzer,
		notifier: deps.Notifier,
		archiver: deps.Archiver,
		metrics:  deps.Metrics,
		settings: s,
		log:      log.With("component", "pipeline"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// run carries the state of one pass.
type run struct {
	*Result
	started time.Time
	log     *slog.Logger
}

func (r *run) step(name, format string, args ...any) {
	summary := fmt.Sprintf(format, args...)
	r.Steps = append(r.Steps, StepResult{Name: name, Summary: summary})
	r.log.Info(summary, "state", name)
}

// Run executes one pass. It returns an error for run-level failures
// (search, analysis provider, persistence) and for failed delivery; zero
// selected papers is a success that still sends a statistics message.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	started := p.now()
	runID := p.newID()
	r := &run{
		Result: &Result{
			RunID: runID,
			Date:  database.DateOf(started),
			Report: database.RunReport{
				RunID:     runID,
				StartedAt: started,
				State:     StateFetch,
			},
		},
		started: started,
		log:     p.log.With("run_id", runID),
	}

	// FETCH
	var found *search.Result
	err := p.stage(r, StateFetch, func() error {
		var err error
		found, err = p.searcher.Search(ctx, p.settings.Query)
		return err
	})
	if err != nil {
		return p.fail(ctx, r, err)
	}
	r.Report.Candidates = len(found.Papers)
	r.step(StateFetch, "Found %d candidates (%d entries, %d duplicates, %d outside window, %d failed terms)",
		len(found.Papers), found.Found, found.Duplicates, found.OutOfWindow, len(found.FailedTerms))

	// DEDUP
	var fresh []database.Paper
	err = p.stage(r, StateDedup, func() error {
		var err error
		fresh, err = p.dedup(ctx, found.Papers)
		return err
	})
	if err != nil {
		return p.fail(ctx, r, err)
	}
	r.Report.Fresh = len(fresh)
	r.step(StateDedup, "%d of %d candidates not yet delivered", len(fresh), len(found.Papers))

	// ANALYZE
	var analyzed []rank.Candidate
	if len(fresh) > 0 {
		err = p.stage(r, StateAnalyze, func() error {
			var err error
			analyzed, err = p.analyzeAll(ctx, r, fresh)
			return err
		})
		if err != nil {
			return p.fail(ctx, r, err)
		}
	}
	r.Report.Analyzed = len(analyzed)

	// FILTER and RANK
	var outcome rank.Outcome
	if len(analyzed) > 0 {
		var limit int
		err = p.stage(r, StateFilter, func() error {
			sentToday, err := p.db.CountDeliveriesOn(ctx, r.Date)
			if err != nil {
				return err
			}
			limit = rank.Remaining(p.settings.MaxPapers, sentToday)
			return nil
		})
		if err != nil {
			return p.fail(ctx, r, err)
		}

		r.Report.State = StateRank
		outcome = rank.Select(analyzed, p.settings.MinScore, limit)
		r.step(StateRank, "%d passed score >= %d, selected %d (daily room %d)",
			len(outcome.Passed), p.settings.MinScore, len(outcome.Selected), limit)
	}
	r.Report.Passed = len(outcome.Passed)

	// Delivery records precede the send: a failed send is never retried
	// with the same papers.
	selected, err := p.recordDeliveries(ctx, r, outcome.Selected)
	if err != nil {
		return p.fail(ctx, r, err)
	}
	r.Report.Selected = len(selected)

	digest, err := p.buildDigest(ctx, r, selected, analyzed, outcome)
	if err != nil {
		return p.fail(ctx, r, err)
	}
	r.Digest = digest

	// NOTIFY
	r.Report.State = StateNotify
	sendErr := p.timed(StateNotify, func() error { return p.notifier.Send(ctx, digest) })
	if sendErr != nil {
		r.Report.Status = database.RunDeliveryFailed
		r.Report.Error = sendErr.Error()
		r.Steps = append(r.Steps, StepResult{Name: StateNotify, Err: sendErr})
		r.log.Error("delivery failed", "error", sendErr)
	} else {
		r.Report.Delivered = len(selected)
		r.Report.Status = database.RunSuccess
		if len(selected) == 0 {
			r.Report.Status = database.RunNoPapers
		}
		r.step(StateNotify, "Sent digest with %d papers", len(selected))
	}

	// PERSIST
	if err := p.stage(r, StatePersist, func() error { return p.persist(ctx, r) }); err != nil {
		return p.fail(ctx, r, err)
	}

	r.Report.State = StateDone
	r.Report.FinishedAt = p.now()
	if err := p.db.InsertRunReport(ctx, r.Report); err != nil {
		return p.fail(ctx, r, err)
	}
	p.observe(ctx, r)

	if sendErr != nil {
		return r.Result, sendErr
	}
	return r.Result, nil
}

// stage sets the run state, times fn and records its failure.
func (p *Pipeline) stage(r *run, name string, fn func() error) error {
	r.Report.State = name
	if err := p.timed(name, fn); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: name, Err: err})
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if p.metrics != nil {
		p.metrics.ObserveStage(name, time.Since(start))
	}
	return err
}

func (p *Pipeline) dedup(ctx context.Context, papers []database.Paper) ([]database.Paper, error) {
	ids := make([]string, len(papers))
	for i, paper := range papers {
		ids[i] = paper.ID
	}
	delivered, err := p.db.DeliveredAmong(ctx, ids)
	if err != nil {
		return nil, err
	}

	var fresh []database.Paper
	for _, paper := range papers {
		if !delivered[paper.ID] {
			fresh = append(fresh, paper)
		}
	}
	return fresh, nil
}

func (p *Pipeline) recordDeliveries(ctx context.Context, r *run, selected []rank.Candidate) ([]rank.Candidate, error) {
	var kept []rank.Candidate
	for _, c := range selected {
		err := p.db.RecordDelivery(ctx, c.Paper.ID, r.Date)
		if errors.Is(err, database.ErrAlreadyDelivered) {
			r.log.Warn("paper delivered by another run, skipping", "paper", c.Paper.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", StateNotify, err)
		}
		kept = append(kept, c)
	}
	return kept, nil
}

// buildDigest records today's statistics and assembles the message.
func (p *Pipeline) buildDigest(ctx context.Context, r *run, selected, analyzed []rank.Candidate, outcome rank.Outcome) (notify.Digest, error) {
	delivered, err := p.db.CountDeliveriesOn(ctx, r.Date)
	if err != nil {
		return notify.Digest{}, fmt.Errorf("%s: %w", StatePersist, err)
	}

	today := database.DailyStats{
		Date:       r.Date,
		Seen:       r.Report.Candidates,
		Analyzed:   len(analyzed),
		Passed:     len(outcome.Passed),
		Delivered:  delivered,
		Categories: map[string]int{},
		Keywords:   map[string]int{},
	}
	for _, c := range analyzed {
		today.Categories[c.Analysis.Category]++
		for _, kw := range c.Analysis.Keywords {
			today.Keywords[kw.Keyword] += kw.Count
		}
	}
	if err := p.db.RecordDailyStats(ctx, today); err != nil {
		return notify.Digest{}, fmt.Errorf("%s: %w", StatePersist, err)
	}

	rollup, err := p.db.GetStats(ctx, r.started.AddDate(0, 0, -(p.settings.RollupDays - 1)))
	if err != nil {
		return notify.Digest{}, fmt.Errorf("%s: %w", StatePersist, err)
	}

	return notify.Digest{
		Date:   r.Date,
		Papers: selected,
		Stats: notify.Stats{
			Today:       today,
			Rollup:      &rollup,
			TopKeywords: p.settings.TopKeywords,
		},
	}, nil
}

func (p *Pipeline) persist(ctx context.Context, r *run) error {
	body := r.Digest.Markdown()
	if _, err := p.db.InsertDigest(ctx, database.Digest{
		RunID:        r.RunID,
		Date:         r.Date,
		Title:        r.Digest.Title(),
		BodyMarkdown: body,
		PaperCount:   len(r.Digest.Papers),
	}); err != nil {
		return err
	}

	if p.archiver != nil {
		key, err := p.archiver.Upload(ctx, r.Date, r.RunID, body)
		if err != nil {
			r.log.Warn("archive upload failed", "error", err)
		} else {
			r.log.Debug("digest archived", "key", key)
		}
	}
	r.step(StatePersist, "Stored digest for %s", r.Date)
	return nil
}

// fail handles a run-level failure: best-effort error notice, run report
// and metrics, then the error is returned.
func (p *Pipeline) fail(ctx context.Context, r *run, err error) (*Result, error) {
	r.log.Error("run failed", "state", r.Report.State, "error", err)

	r.Report.Status = database.RunFailed
	r.Report.Error = err.Error()
	r.Report.FinishedAt = p.now()

	// Reporting must still work when ctx was the cause.
	bg := context.WithoutCancel(ctx)
	if nerr := p.notifier.SendError(bg, r.Date, err); nerr != nil {
		r.log.Warn("error notification failed", "error", nerr)
	}
	if dberr := p.db.InsertRunReport(bg, r.Report); dberr != nil {
		r.log.Warn("recording run report failed", "error", dberr)
	}
	p.observe(bg, r)
	return r.Result, err
}

func (p *Pipeline) observe(ctx context.Context, r *run) {
	if p.metrics == nil {
		return
	}
	p.metrics.ObserveRun(r.Report)
	if err := p.metrics.Push(ctx); err != nil {
		r.log.Warn("metrics push failed", "error", err)
	}
}

// isValidation reports whether err is a malformed-answer failure.
func isValidation(err error) bool {
	var verr *analyze.ValidationError
	return errors.As(err, &verr)
}
