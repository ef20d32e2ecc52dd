package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveAnalysis persists a paper and its analysis, keyed by paper ID.
// Re-saving the same ID overwrites both rows.
func (db *DB) SaveAnalysis(ctx context.Context, p Paper, a Analysis) error {
	if a.PaperID == "" {
		a.PaperID = p.ID
	}
	if a.PaperID != p.ID {
		return fmt.Errorf("analysis for %q does not match paper %q", a.PaperID, p.ID)
	}
	if err := a.Validate(); err != nil {
		return err
	}

	authors, _ := json.Marshal(nonNil(p.Authors))
	categories, _ := json.Marshal(nonNil(p.Categories))
	keyPoints, _ := json.Marshal(nonNil(a.KeyPoints))
	keywords, _ := json.Marshal(a.Keywords)
	if a.Keywords == nil {
		keywords = []byte("[]")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save analysis: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO papers (id, title, abstract, authors, categories, published_at, updated_at, url, pdf_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			abstract = excluded.abstract,
			authors = excluded.authors,
			categories = excluded.categories,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at,
			url = excluded.url,
			pdf_url = excluded.pdf_url`,
		p.ID, p.Title, p.Abstract, string(authors), string(categories),
		formatTime(p.Published), formatTime(p.Updated), p.URL, p.PDFURL,
	)
	if err != nil {
		return fmt.Errorf("saving paper %s: %w", p.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO analyses
		(paper_id, summary, technical_summary, business_impact, key_points, keywords,
		 category, model_score, keyword_bonus, score, model, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(paper_id) DO UPDATE SET
			summary = excluded.summary,
			technical_summary = excluded.technical_summary,
			business_impact = excluded.business_impact,
			key_points = excluded.key_points,
			keywords = excluded.keywords,
			category = excluded.category,
			model_score = excluded.model_score,
			keyword_bonus = excluded.keyword_bonus,
			score = excluded.score,
			model = excluded.model,
			analyzed_at = excluded.analyzed_at`,
		a.PaperID, a.Summary, a.TechnicalSummary, a.BusinessImpact,
		string(keyPoints), string(keywords), a.Category,
		a.ModelScore, a.KeywordBonus, a.Score, a.Model,
	)
	if err != nil {
		return fmt.Errorf("saving analysis %s: %w", p.ID, err)
	}

	return tx.Commit()
}

// GetAnalysis returns the stored analysis for a paper, or nil if the paper
// has not been analyzed yet.
func (db *DB) GetAnalysis(ctx context.Context, paperID string) (*Analysis, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT paper_id, summary, technical_summary, business_impact, key_points, keywords,
		category, model_score, keyword_bonus, score, model, analyzed_at
		FROM analyses WHERE paper_id = ?`, paperID,
	)

	var (
		a         Analysis
		keyPoints string
		keywords  string
		model     sql.NullString
	)
	err := row.Scan(&a.PaperID, &a.Summary, &a.TechnicalSummary, &a.BusinessImpact,
		&keyPoints, &keywords, &a.Category, &a.ModelScore, &a.KeywordBonus, &a.Score,
		&model, &a.AnalyzedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading analysis %s: %w", paperID, err)
	}

	a.Model = model.String
	json.Unmarshal([]byte(keyPoints), &a.KeyPoints)
	json.Unmarshal([]byte(keywords), &a.Keywords)
	return &a, nil
}

// GetPaper returns a stored paper, or nil if unknown.
func (db *DB) GetPaper(ctx context.Context, id string) (*Paper, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, title, abstract, authors, categories, published_at, updated_at, url, pdf_url
		FROM papers WHERE id = ?`, id,
	)

	var (
		p                   Paper
		authors, categories string
		published, updated  sql.NullString
	)
	err := row.Scan(&p.ID, &p.Title, &p.Abstract, &authors, &categories,
		&published, &updated, &p.URL, &p.PDFURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading paper %s: %w", id, err)
	}

	json.Unmarshal([]byte(authors), &p.Authors)
	json.Unmarshal([]byte(categories), &p.Categories)
	p.Published = parseTime(published.String)
	p.Updated = parseTime(updated.String)
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
