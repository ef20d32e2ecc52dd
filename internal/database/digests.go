package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertDigest stores the rendered digest of a run.
func (db *DB) InsertDigest(ctx context.Context, d Digest) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO digests (run_id, date, title, body_markdown, paper_count)
		VALUES (?, ?, ?, ?, ?)`,
		d.RunID, d.Date, d.Title, d.BodyMarkdown, d.PaperCount,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting digest: %w", err)
	}
	return result.LastInsertId()
}

const digestColumns = "id, run_id, date, title, body_markdown, paper_count, generated_at"

func scanDigest(scan func(...any) error) (Digest, error) {
	var d Digest
	err := scan(&d.ID, &d.RunID, &d.Date, &d.Title, &d.BodyMarkdown, &d.PaperCount, &d.GeneratedAt)
	return d, err
}

// GetDigest returns the newest digest for a date, or nil.
func (db *DB) GetDigest(ctx context.Context, date string) (*Digest, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+digestColumns+" FROM digests WHERE date = ? ORDER BY id DESC LIMIT 1", date,
	)
	d, err := scanDigest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetAllDigests returns every digest, newest first.
func (db *DB) GetAllDigests(ctx context.Context) ([]Digest, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+digestColumns+" FROM digests ORDER BY date DESC, id DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var digests []Digest
	for rows.Next() {
		d, err := scanDigest(rows.Scan)
		if err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// GetAdjacentDigestDates returns the dates before and after the given one
// that have digests. Empty strings mean none.
func (db *DB) GetAdjacentDigestDates(ctx context.Context, date string) (prev, next string, err error) {
	err = db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(date), '') FROM digests WHERE date < ?", date,
	).Scan(&prev)
	if err != nil {
		return "", "", err
	}
	err = db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(MIN(date), '') FROM digests WHERE date > ?", date,
	).Scan(&next)
	return prev, next, err
}
