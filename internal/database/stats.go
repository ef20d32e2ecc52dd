package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// RecordDailyStats upserts the statistics row for s.Date.
func (db *DB) RecordDailyStats(ctx context.Context, s DailyStats) error {
	if s.Date == "" {
		return fmt.Errorf("daily stats without a date")
	}
	categories, err := json.Marshal(nonNilMap(s.Categories))
	if err != nil {
		return err
	}
	keywords, err := json.Marshal(nonNilMap(s.Keywords))
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO daily_stats (date, seen, analyzed, passed, delivered, categories, keywords, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(date) DO UPDATE SET
			seen = excluded.seen,
			analyzed = excluded.analyzed,
			passed = excluded.passed,
			delivered = excluded.delivered,
			categories = excluded.categories,
			keywords = excluded.keywords,
			updated_at = excluded.updated_at`,
		s.Date, s.Seen, s.Analyzed, s.Passed, s.Delivered, string(categories), string(keywords),
	)
	if err != nil {
		return fmt.Errorf("recording daily stats for %s: %w", s.Date, err)
	}
	return nil
}

// GetDailyStats returns the row for one date, or nil.
func (db *DB) GetDailyStats(ctx context.Context, date string) (*DailyStats, error) {
	rows, err := db.queryStats(ctx, sq.Eq{"date": date})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetStats aggregates DailyStats from since (inclusive) onwards. No rows in
// range yields an empty aggregate with non-nil maps and a nil error.
func (db *DB) GetStats(ctx context.Context, since time.Time) (StatsAggregate, error) {
	agg := StatsAggregate{
		Since:      DateOf(since),
		Categories: map[string]int{},
		Keywords:   map[string]int{},
	}

	rows, err := db.queryStats(ctx, sq.GtOrEq{"date": agg.Since})
	if err != nil {
		return agg, err
	}

	for _, r := range rows {
		agg.Days++
		agg.Seen += r.Seen
		agg.Analyzed += r.Analyzed
		agg.Passed += r.Passed
		agg.Delivered += r.Delivered
		for k, v := range r.Categories {
			agg.Categories[k] += v
		}
		for k, v := range r.Keywords {
			agg.Keywords[k] += v
		}
	}
	return agg, nil
}

func (db *DB) queryStats(ctx context.Context, where sq.Sqlizer) ([]DailyStats, error) {
	query, args, err := sq.Select("date", "seen", "analyzed", "passed", "delivered", "categories", "keywords").
		From("daily_stats").
		Where(where).
		OrderBy("date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stats query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var (
			s                    DailyStats
			categories, keywords string
		)
		if err := rows.Scan(&s.Date, &s.Seen, &s.Analyzed, &s.Passed, &s.Delivered, &categories, &keywords); err != nil {
			return nil, err
		}
		s.Categories = map[string]int{}
		s.Keywords = map[string]int{}
		json.Unmarshal([]byte(categories), &s.Categories)
		json.Unmarshal([]byte(keywords), &s.Keywords)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetTotals returns store-wide counts for the stats command.
func (db *DB) GetTotals(ctx context.Context, now time.Time) (*Totals, error) {
	t := &Totals{}
	counts := []struct {
		query string
		args  []any
		dest  *int
	}{
		{"SELECT COUNT(*) FROM papers", nil, &t.Papers},
		{"SELECT COUNT(*) FROM analyses", nil, &t.Analyses},
		{"SELECT COUNT(*) FROM deliveries", nil, &t.Deliveries},
		{"SELECT COUNT(*) FROM deliveries WHERE sent_date >= ?", []any{MonthStart(now)}, &t.DeliveredThisMonth},
		{"SELECT COUNT(*) FROM digests", nil, &t.Digests},
		{"SELECT COUNT(*) FROM run_reports", nil, &t.Runs},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("%s: %w", c.query, err)
		}
	}
	return t, nil
}

func nonNilMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
