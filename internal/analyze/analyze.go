// Package analyze turns a paper's title and abstract into a scored,
// categorized Analysis using an LLM provider.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/llm"
)

// SystemPrompt is sent as the system message on every analysis request.
const SystemPrompt = `You are an expert Swift and iOS engineer. You read research papers and extract what is useful to Swift/iOS developers. Always answer with a single JSON object and nothing else.`

const analysisPrompt = `Analyze the following paper for Swift/iOS developers.

Title: %s
Authors: %s
arXiv categories: %s
Abstract:
%s

Respond with ONLY this JSON:
{
    "summary": "One sentence summary of the paper",
    "technical_summary": "Two to three sentences on the technical contribution",
    "business_impact": "One to two sentences on what it means for teams shipping Swift/iOS apps",
    "key_points": ["point 1", "point 2", "point 3"],
    "keywords": ["keyword", "keyword"],
    "relevance_score": 0-10,
    "category": one of %s
}

relevance_score: 10 = directly about Swift/iOS development, 0 = unrelated. Score papers that only mention Apple in passing low.`

const retrySuffix = `

Your previous answer was rejected: %s. Return only the JSON object with every field filled in.`

// Options configures an Analyzer.
type Options struct {
	MaxTokens   int
	MaxAttempts int
	Logger      *slog.Logger
}

// Analyzer produces Analyses through an LLM provider.
type Analyzer struct {
	provider    llm.Provider
	maxTokens   int
	maxAttempts int
	log         *slog.Logger
}

// New creates an Analyzer.
func New(provider llm.Provider, opts Options) *Analyzer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Analyzer{
		provider:    provider,
		maxTokens:   opts.MaxTokens,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger,
	}
}

// ErrNoProvider is returned when the Analyzer has no usable provider.
var ErrNoProvider = errors.New("no LLM provider available")

// Analyze requests an analysis of p, re-asking up to MaxAttempts times when
// the answer does not validate. The last *ValidationError is returned when
// every attempt is malformed. Provider errors are returned as-is.
func (a *Analyzer) Analyze(ctx context.Context, p database.Paper) (database.Analysis, error) {
	if a.provider == nil {
		return database.Analysis{}, ErrNoProvider
	}

	base := buildPrompt(p)
	prompt := base
	var lastErr error

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		text, err := a.provider.Generate(ctx, prompt, a.maxTokens)
		if err != nil {
			return database.Analysis{}, fmt.Errorf("analyzing %s: %w", p.ID, err)
		}

		resp, err := parseResponse(p.ID, text)
		if err == nil {
			return a.build(p, resp), nil
		}

		lastErr = err
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return database.Analysis{}, err
		}
		a.log.Warn("malformed analysis", "paper", p.ID, "attempt", attempt, "error", err)
		prompt = base + fmt.Sprintf(retrySuffix, verr.Reason)
	}
	return database.Analysis{}, lastErr
}

func (a *Analyzer) build(p database.Paper, r response) database.Analysis {
	text := p.Title + "\n" + p.Abstract
	bonus := KeywordBonus(text)
	return database.Analysis{
		PaperID:          p.ID,
		Summary:          r.Summary,
		TechnicalSummary: r.TechnicalSummary,
		BusinessImpact:   r.BusinessImpact,
		KeyPoints:        r.KeyPoints,
		Keywords:         ExtractKeywords(text, r.Keywords),
		Category:         MatchCategory(r.Category),
		ModelScore:       r.RelevanceScore,
		KeywordBonus:     bonus,
		Score:            Blend(r.RelevanceScore, bonus),
		Model:            a.provider.Name(),
	}
}

func buildPrompt(p database.Paper) string {
	authors := p.Authors
	more := ""
	if len(authors) > 3 {
		authors = authors[:3]
		more = " et al."
	}

	abstract := p.Abstract
	if abstract == "" {
		abstract = "(no abstract available)"
	}
	if len(abstract) > maxAbstractSize {
		cut := maxAbstractSize
		for cut > 0 && !utf8.RuneStart(abstract[cut]) {
			cut--
		}
		abstract = abstract[:cut] + "..."
	}

	quoted := make([]string, len(database.Categories))
	for i, c := range database.Categories {
		quoted[i] = fmt.Sprintf("%q", c)
	}

	return fmt.Sprintf(analysisPrompt,
		p.Title,
		strings.Join(authors, ", ")+more,
		strings.Join(p.Categories, ", "),
		abstract,
		strings.Join(quoted, ", "),
	)
}
