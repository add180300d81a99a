package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DM is one queued direct message. DeliveredTS is nil until the first
// successful send; a delivered row is immutable and never resent.
type DM struct {
	ID          int64
	ToID        string
	Body        string
	CreatedTS   int64
	DeliveredTS *int64
}

// EnqueueDM queues a DM for toID and returns the row id.
func (s *Store) EnqueueDM(ctx context.Context, toID, body string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dm_out (to_id, body, created_ts, delivered_ts) VALUES (?, ?, ?, NULL)`,
		toID, body, now())
	if err != nil {
		return 0, fmt.Errorf("enqueue dm to %s: %w", toID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue dm id: %w", err)
	}
	return id, nil
}

// PendingDMs returns up to limit undelivered DMs for toID in queue order.
// Rows older than ttl are hidden (ttl <= 0 disables the cutoff); they stay
// in the table for operator inspection but are no longer flushed.
func (s *Store) PendingDMs(ctx context.Context, toID string, limit int, ttl time.Duration) ([]DM, error) {
	cutoff := int64(0)
	if ttl > 0 {
		cutoff = now() - int64(ttl.Seconds())
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, to_id, body, created_ts, delivered_ts FROM dm_out
		 WHERE to_id = ? AND delivered_ts IS NULL AND created_ts >= ?
		 ORDER BY id LIMIT ?`, toID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("pending dms for %s: %w", toID, err)
	}
	defer rows.Close()

	var dms []DM
	for rows.Next() {
		var d DM
		var delivered sql.NullInt64
		if err := rows.Scan(&d.ID, &d.ToID, &d.Body, &d.CreatedTS, &delivered); err != nil {
			return nil, fmt.Errorf("scan dm: %w", err)
		}
		if delivered.Valid {
			d.DeliveredTS = &delivered.Int64
		}
		dms = append(dms, d)
	}
	return dms, rows.Err()
}

// MarkDMDelivered stamps the row's delivery time. The WHERE guard keeps an
// already-delivered row immutable.
func (s *Store) MarkDMDelivered(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE dm_out SET delivered_ts = ? WHERE id = ? AND delivered_ts IS NULL`,
		now(), id)
	if err != nil {
		return fmt.Errorf("mark dm %d delivered: %w", id, err)
	}
	return nil
}
