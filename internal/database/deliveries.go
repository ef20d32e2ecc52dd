package database

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// ErrAlreadyDelivered is returned by RecordDelivery when the paper already
// has a delivery record. Nothing is written in that case.
var ErrAlreadyDelivered = errors.New("paper already delivered")

// HasBeenDelivered reports whether a delivery record exists for paperID.
func (db *DB) HasBeenDelivered(ctx context.Context, paperID string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM deliveries WHERE paper_id = ?", paperID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking delivery for %s: %w", paperID, err)
	}
	return count > 0, nil
}

// DeliveredAmong returns the subset of ids that already have delivery records.
func (db *DB) DeliveredAmong(ctx context.Context, ids []string) (map[string]bool, error) {
	delivered := make(map[string]bool)
	if len(ids) == 0 {
		return delivered, nil
	}

	query, args, err := sq.Select("paper_id").
		From("deliveries").
		Where(sq.Eq{"paper_id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building delivery query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		delivered[id] = true
	}
	return delivered, rows.Err()
}

// RecordDelivery appends a delivery record for paperID on date (YYYY-MM-DD).
// It returns ErrAlreadyDelivered if one already exists.
func (db *DB) RecordDelivery(ctx context.Context, paperID, date string) error {
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO deliveries (paper_id, sent_date) VALUES (?, ?)
		ON CONFLICT(paper_id) DO NOTHING`,
		paperID, date,
	)
	if err != nil {
		return fmt.Errorf("recording delivery for %s: %w", paperID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyDelivered, paperID)
	}
	return nil
}

// CountDeliveriesOn returns how many papers were delivered on date.
func (db *DB) CountDeliveriesOn(ctx context.Context, date string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM deliveries WHERE sent_date = ?", date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting deliveries on %s: %w", date, err)
	}
	return count, nil
}

// GetDeliveriesOn returns the delivery records for a date.
func (db *DB) GetDeliveriesOn(ctx context.Context, date string) ([]DeliveryRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT paper_id, sent_date, recorded_at FROM deliveries WHERE sent_date = ? ORDER BY paper_id",
		date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		if err := rows.Scan(&r.PaperID, &r.SentDate, &r.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
