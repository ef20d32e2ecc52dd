package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/httputil"
)

var arxivAbsBase = "https://arxiv.org/abs/"

const minAbstractLen = 40

// enrichMissing fills empty abstracts from the paper's abstract page and
// returns how many were filled. Failures leave the abstract empty.
func (c *Client) enrichMissing(ctx context.Context, papers []database.Paper) int {
	var n int
	for i := range papers {
		if papers[i].Abstract != "" {
			continue
		}
		abstract, err := c.fetchAbstract(ctx, papers[i].ID)
		if err != nil {
			c.log.Warn("abstract enrichment failed", "paper", papers[i].ID, "error", err)
			continue
		}
		if abstract == "" {
			c.log.Debug("no abstract on page", "paper", papers[i].ID)
			continue
		}
		papers[i].Abstract = abstract
		n++
	}
	return n
}

func (c *Client) fetchAbstract(ctx context.Context, id string) (string, error) {
	pageURL := arxivAbsBase + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, c.client, req, c.maxRetries)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("abstract page returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return extractAbstract(body, pageURL), nil
}

// extractAbstract reads the abstract block of an arXiv abs page, falling
// back to readability for pages without the usual markup.
func extractAbstract(body []byte, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		block := doc.Find("blockquote.abstract").First()
		block.Find("span.descriptor").Remove()
		if text := normalizeSpace(block.Text()); len(text) >= minAbstractLen {
			return text
		}
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return ""
	}
	text := normalizeSpace(article.TextContent)
	if len(text) < minAbstractLen {
		return ""
	}
	return text
}
