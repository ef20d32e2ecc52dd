package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PaperDigest/internal/httputil"
	"github.com/TobiSchelling/PaperDigest/internal/logging"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

var fixedNow = time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)

func entry(id, title, summary, published string) string {
	return fmt.Sprintf(`
  <entry>
    <id>http://arxiv.org/abs/%[1]s</id>
    <updated>%[4]s</updated>
    <published>%[4]s</published>
    <title>%[2]s</title>
    <summary>%[3]s</summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Grace Hopper</name></author>
    <link href="http://arxiv.org/abs/%[1]s" rel="alternate" type="text/html"/>
    <category term="cs.SE" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.PL" scheme="http://arxiv.org/schemas/atom"/>
  </entry>`, id, title, summary, published)
}

func feed(entries ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>arXiv Query</title>` + strings.Join(entries, "") + `
</feed>`
}

func newTestClient(enrich bool) *Client {
	c := NewClient(Options{MaxRetries: 1, EnrichAbstracts: enrich, Logger: logging.Discard()})
	c.now = func() time.Time { return fixedNow }
	return c
}

func withArxivServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	ts := httptest.NewServer(h)
	old := arxivAPIBase
	arxivAPIBase = ts.URL
	t.Cleanup(func() {
		arxivAPIBase = old
		ts.Close()
	})
}

func TestSearchMergesTermsInFirstSeenOrder(t *testing.T) {
	var queries []string
	withArxivServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		queries = append(queries, q.Get("search_query"))
		assert.Equal(t, "submittedDate", q.Get("sortBy"))
		assert.Equal(t, "descending", q.Get("sortOrder"))
		assert.Equal(t, "10", q.Get("max_results"))

		switch q.Get("search_query") {
		case `all:"SwiftUI"`:
			fmt.Fprint(w, feed(
				entry("2602.00001v2", "Declarative UI at Scale", "We study\n  SwiftUI diffing.", "2026-02-05T10:00:00Z"),
				entry("2602.00002v1", "Old News", "Too old.", "2025-12-01T10:00:00Z"),
			))
		case `all:"Xcode"`:
			fmt.Fprint(w, feed(
				entry("2602.00003v1", "Faster Builds", "Xcode build graphs.", "2026-02-04T10:00:00Z"),
				entry("2602.00001v3", "Declarative UI at Scale", "We study SwiftUI diffing.", "2026-02-05T10:00:00Z"),
			))
		}
	})

	c := newTestClient(false)
	res, err := c.Search(context.Background(), Query{Terms: []string{"SwiftUI", "Xcode"}, MaxResults: 10, Days: 30})
	require.NoError(t, err)

	assert.Equal(t, []string{`all:"SwiftUI"`, `all:"Xcode"`}, queries)
	require.Len(t, res.Papers, 2)
	assert.Equal(t, "2602.00001", res.Papers[0].ID)
	assert.Equal(t, "2602.00003", res.Papers[1].ID)
	assert.Equal(t, 4, res.Found)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.OutOfWindow)

	p := res.Papers[0]
	assert.Equal(t, "Declarative UI at Scale", p.Title)
	assert.Equal(t, "We study SwiftUI diffing.", p.Abstract)
	assert.Equal(t, []string{"Ada Lovelace", "Grace Hopper"}, p.Authors)
	assert.Equal(t, []string{"cs.SE", "cs.PL"}, p.Categories)
	assert.Equal(t, "http://arxiv.org/abs/2602.00001v2", p.URL)
	assert.Equal(t, "http://arxiv.org/pdf/2602.00001v2.pdf", p.PDFURL)
	assert.True(t, p.Published.Equal(time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)))
}

func TestSearchSkipsFailingTerm(t *testing.T) {
	withArxivServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search_query") == `all:"iOS"` {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, feed(entry("2602.00010v1", "Swift Macros", "Macro expansion.", "2026-02-05T10:00:00Z")))
	})

	res, err := newTestClient(false).Search(context.Background(), Query{Terms: []string{"iOS", "Swift"}, MaxResults: 5, Days: 30})
	require.NoError(t, err)
	assert.Equal(t, []string{"iOS"}, res.FailedTerms)
	require.Len(t, res.Papers, 1)
	assert.Equal(t, "2602.00010", res.Papers[0].ID)
}

func TestSearchAllTermsFail(t *testing.T) {
	withArxivServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := newTestClient(false).Search(context.Background(), Query{Terms: []string{"a", "b"}, MaxResults: 5, Days: 30})
	assert.True(t, errors.Is(err, ErrAllTermsFailed), "got %v", err)
}

func TestSearchNoTerms(t *testing.T) {
	res, err := newTestClient(false).Search(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, res.Papers)
}

func TestExtractArxivID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"http://arxiv.org/abs/2301.07041v1", "2301.07041"},
		{"http://arxiv.org/abs/1706.03762v5", "1706.03762"},
		{"http://arxiv.org/abs/2301.12345", "2301.12345"},
		{"https://arxiv.org/abs/cs/0112017v1", "cs/0112017"},
		{"https://example.com/paper", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractArxivID(tt.input), tt.input)
	}
}
