package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/PaperDigest/internal/analyze"
	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/llm"
	"github.com/TobiSchelling/PaperDigest/internal/rank"
)

// analyzeAll returns a candidate for every fresh paper that has, or now
// gets, a valid analysis. Cached analyses are reused. Papers whose analysis
// fails are logged and left out; the run only fails when the context ends
// or when a provider error shows that no paper can be analyzed at all.
func (p *Pipeline) analyzeAll(ctx context.Context, r *run, fresh []database.Paper) ([]rank.Candidate, error) {
	cands := make([]rank.Candidate, 0, len(fresh))
	var pending []database.Paper
	for _, paper := range fresh {
		cached, err := p.db.GetAnalysis(ctx, paper.ID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			cands = append(cands, rank.Candidate{Paper: paper, Analysis: *cached})
			continue
		}
		pending = append(pending, paper)
	}
	reused := len(cands)

	results := make([]database.Analysis, len(pending))
	errs := make([]error, len(pending))

	var g errgroup.Group
	g.SetLimit(p.settings.Workers)
	for i, paper := range pending {
		i, paper := i, paper
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return nil
			}
			results[i], errs[i] = p.analyzer.Analyze(ctx, paper)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Results are written from this goroutine only.
	var malformed, providerErrs int
	for i, paper := range pending {
		if err := errs[i]; err != nil {
			if unusableProvider(err) {
				return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
			}
			if isValidation(err) {
				malformed++
			} else {
				providerErrs++
			}
			if p.metrics != nil {
				p.metrics.AnalysisFailed()
			}
			r.log.Warn("analysis failed, paper skipped", "paper", paper.ID, "error", err)
			continue
		}
		if err := p.db.SaveAnalysis(ctx, paper, results[i]); err != nil {
			return nil, err
		}
		cands = append(cands, rank.Candidate{Paper: paper, Analysis: results[i]})
	}

	r.step(StateAnalyze, "Analyzed %d papers (%d cached, %d malformed, %d errors)",
		len(cands), reused, malformed, providerErrs)
	return cands, nil
}

// unusableProvider reports whether err means no paper can be analyzed this
// run, such as a missing provider or rejected credentials. Any other provider
// error only costs the paper it hit.
func unusableProvider(err error) bool {
	if errors.Is(err, analyze.ErrNoProvider) || errors.Is(err, llm.ErrNotConfigured) {
		return true
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}
