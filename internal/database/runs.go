package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertRunReport stores the outcome of a pipeline run.
func (db *DB) InsertRunReport(ctx context.Context, r RunReport) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_reports
		(run_id, started_at, finished_at, state, status, candidates, fresh, analyzed, passed, selected, delivered, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.State, r.Status,
		r.Candidates, r.Fresh, r.Analyzed, r.Passed, r.Selected, r.Delivered, nullString(r.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting run report %s: %w", r.RunID, err)
	}
	return nil
}

// GetLastRun returns the most recent run report, or nil.
func (db *DB) GetLastRun(ctx context.Context) (*RunReport, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT run_id, started_at, finished_at, state, status, candidates, fresh,
		analyzed, passed, selected, delivered, error
		FROM run_reports ORDER BY started_at DESC LIMIT 1`,
	)

	var (
		r                 RunReport
		started, finished sql.NullString
		errText           sql.NullString
	)
	err := row.Scan(&r.RunID, &started, &finished, &r.State, &r.Status, &r.Candidates,
		&r.Fresh, &r.Analyzed, &r.Passed, &r.Selected, &r.Delivered, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last run: %w", err)
	}
	r.StartedAt = parseTime(started.String)
	r.FinishedAt = parseTime(finished.String)
	r.Error = errText.String
	return &r, nil
}

// CleanupResult reports how many rows Cleanup removed.
type CleanupResult struct {
	RunReports int64
	Digests    int64
}

// Cleanup removes run reports and archived digests older than before.
// Delivery records and analyses are never pruned: dedup depends on them.
func (db *DB) Cleanup(ctx context.Context, before time.Time) (CleanupResult, error) {
	var res CleanupResult

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, "DELETE FROM run_reports WHERE started_at < ?", formatTime(before))
	if err != nil {
		return res, fmt.Errorf("pruning run reports: %w", err)
	}
	res.RunReports, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, "DELETE FROM digests WHERE date < ?", DateOf(before))
	if err != nil {
		return res, fmt.Errorf("pruning digests: %w", err)
	}
	res.Digests, _ = r.RowsAffected()

	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("commit cleanup: %w", err)
	}
	return res, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
