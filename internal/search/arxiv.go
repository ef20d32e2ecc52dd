// Package search queries the arXiv API for candidate papers.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/httputil"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "http://export.arxiv.org/api/query"

// ErrAllTermsFailed is returned when no search term produced a response.
var ErrAllTermsFailed = errors.New("all search terms failed")

// Query describes one search pass.
type Query struct {
	Terms      []string
	MaxResults int // per term
	Days       int // lookback window
}

// Result holds the outcome of a search pass.
type Result struct {
	Papers      []database.Paper
	Found       int // entries returned across all terms
	Duplicates  int // entries already seen under an earlier term
	OutOfWindow int
	FailedTerms []string
	Enriched    int
}

// Options configures a Client.
type Options struct {
	Timeout         time.Duration
	MaxRetries      int
	UserAgent       string
	EnrichAbstracts bool
	Logger          *slog.Logger
}

// Client searches arXiv.
type Client struct {
	client     *http.Client
	maxRetries int
	userAgent  string
	enrich     bool
	log        *slog.Logger
	now        func() time.Time
}

// NewClient creates a search client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		client:     &http.Client{Timeout: timeout},
		maxRetries: opts.MaxRetries,
		userAgent:  opts.UserAgent,
		enrich:     opts.EnrichAbstracts,
		log:        log,
		now:        time.Now,
	}
}

// Search runs one query per term and merges the results by arXiv ID in
// first-seen order. A failing term is logged and skipped; if every term
// fails ErrAllTermsFailed is returned.
func (c *Client) Search(ctx context.Context, q Query) (*Result, error) {
	if len(q.Terms) == 0 {
		return &Result{}, nil
	}
	cutoff := c.now().AddDate(0, 0, -q.Days)

	r := &Result{}
	seen := make(map[string]bool)
	var lastErr error

	for _, term := range q.Terms {
		papers, err := c.searchTerm(ctx, term, q.MaxResults)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("search term failed", "term", term, "error", err)
			r.FailedTerms = append(r.FailedTerms, term)
			lastErr = err
			continue
		}

		r.Found += len(papers)
		for _, p := range papers {
			if !p.Published.IsZero() && p.Published.Before(cutoff) {
				r.OutOfWindow++
				continue
			}
			if seen[p.ID] {
				r.Duplicates++
				continue
			}
			seen[p.ID] = true
			r.Papers = append(r.Papers, p)
		}
		c.log.Debug("searched term", "term", term, "entries", len(papers))
	}

	if len(r.FailedTerms) == len(q.Terms) {
		return r, fmt.Errorf("%w: last error: %v", ErrAllTermsFailed, lastErr)
	}

	if c.enrich {
		r.Enriched = c.enrichMissing(ctx, r.Papers)
	}

	c.log.Info("search complete",
		"terms", len(q.Terms), "found", r.Found, "candidates", len(r.Papers),
		"duplicates", r.Duplicates, "out_of_window", r.OutOfWindow, "failed_terms", len(r.FailedTerms))
	return r, nil
}

func (c *Client) searchTerm(ctx context.Context, term string, maxResults int) ([]database.Paper, error) {
	if maxResults <= 0 {
		maxResults = 50
	}

	params := url.Values{}
	params.Set("search_query", fmt.Sprintf(`all:"%s"`, term))
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, c.client, req, c.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	var papers []database.Paper
	for _, item := range feed.Items {
		p, ok := parseItem(item)
		if !ok {
			continue
		}
		papers = append(papers, p)
	}
	return papers, nil
}

func parseItem(item *gofeed.Item) (database.Paper, bool) {
	absURL := item.GUID
	if !strings.Contains(absURL, "/abs/") {
		absURL = item.Link
	}
	id := extractArxivID(absURL)
	title := normalizeSpace(item.Title)
	if id == "" || title == "" {
		return database.Paper{}, false
	}

	p := database.Paper{
		ID:         id,
		Title:      title,
		Abstract:   normalizeSpace(item.Description),
		Categories: item.Categories,
		URL:        absURL,
		PDFURL:     strings.Replace(absURL, "/abs/", "/pdf/", 1) + ".pdf",
	}
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			p.Authors = append(p.Authors, strings.TrimSpace(a.Name))
		}
	}
	if item.PublishedParsed != nil {
		p.Published = item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		p.Updated = item.UpdatedParsed.UTC()
	} else {
		p.Updated = p.Published
	}
	return p, true
}

// extractArxivID pulls the arXiv ID from an abs URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" -> "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := strings.TrimSpace(idURL[idx+len(prefix):])

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
