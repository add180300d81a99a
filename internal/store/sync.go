package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SeenUID records transfers whose header has arrived; AppliedUID records
// transfers whose body has been applied to the posts table. AppliedUID is
// the authoritative dedup set — a UID in it is never applied again.

// MarkSeenUID records that a transfer with this UID has started arriving.
// Repeats are no-ops.
func (s *Store) MarkSeenUID(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_uids (uid, ts) VALUES (?, ?)`, uid, now())
	if err != nil {
		return fmt.Errorf("mark seen uid %s: %w", uid, err)
	}
	return nil
}

// MarkAppliedUID records that the transfer's body has been applied.
// Repeats are no-ops.
func (s *Store) MarkAppliedUID(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO applied_uids (uid, ts) VALUES (?, ?)`, uid, now())
	if err != nil {
		return fmt.Errorf("mark applied uid %s: %w", uid, err)
	}
	return nil
}

// IsAppliedUID reports whether the transfer has already been applied.
func (s *Store) IsAppliedUID(ctx context.Context, uid string) (bool, error) {
	var one int64
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM applied_uids WHERE uid = ?`, uid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check applied uid %s: %w", uid, err)
	}
	return true, nil
}

// -------------------------------------------------------------------------
// Reassembly buffers
// -------------------------------------------------------------------------

// RxBuffer is one in-flight chunked transfer. Parts holds received chunks
// keyed by their 1-based index; the body is assembled in index order once
// every index 1..Total is present.
type RxBuffer struct {
	UID       string
	Total     int
	Got       int
	Parts     map[int]string
	FromID    string
	CreatedTS int64
}

// Complete reports whether every expected chunk index has arrived.
func (b RxBuffer) Complete() bool {
	if b.Total < 1 {
		return false
	}
	for i := 1; i <= b.Total; i++ {
		if _, ok := b.Parts[i]; !ok {
			return false
		}
	}
	return true
}

// Assemble concatenates the chunks in index order.
func (b RxBuffer) Assemble() string {
	var body string
	for i := 1; i <= b.Total; i++ {
		body += b.Parts[i]
	}
	return body
}

// CreateRxBuffer inserts an empty reassembly buffer for uid. If a buffer
// already exists the call is a no-op (duplicate POST headers are ignored).
func (s *Store) CreateRxBuffer(ctx context.Context, uid string, total int, fromID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rxparts (uid, total, got, data, from_id, created_ts)
		 VALUES (?, ?, 0, '{}', ?, ?)`, uid, total, fromID, now())
	if err != nil {
		return fmt.Errorf("create rx buffer %s: %w", uid, err)
	}
	return nil
}

// GetRxBuffer loads the buffer for uid, or ErrBufferNotFound.
func (s *Store) GetRxBuffer(ctx context.Context, uid string) (RxBuffer, error) {
	var b RxBuffer
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, total, got, data, from_id, created_ts FROM rxparts WHERE uid = ?`, uid).
		Scan(&b.UID, &b.Total, &b.Got, &data, &b.FromID, &b.CreatedTS)
	if errors.Is(err, sql.ErrNoRows) {
		return RxBuffer{}, fmt.Errorf("rx buffer %s: %w", uid, ErrBufferNotFound)
	}
	if err != nil {
		return RxBuffer{}, fmt.Errorf("get rx buffer %s: %w", uid, err)
	}

	b.Parts = map[int]string{}
	if err := json.Unmarshal([]byte(data), &b.Parts); err != nil {
		return RxBuffer{}, fmt.Errorf("decode rx buffer %s: %w", uid, err)
	}
	return b, nil
}

// AppendRxPart records chunk index idx of the transfer. The expected total
// is refreshed from the PART frame so a transfer survives losing its
// header's total. Re-sent indexes overwrite in place without bumping got.
// Returns ErrBufferNotFound when no POST header created the buffer.
func (s *Store) AppendRxPart(ctx context.Context, uid string, idx, total int, chunk string) error {
	b, err := s.GetRxBuffer(ctx, uid)
	if err != nil {
		return err
	}

	if _, dup := b.Parts[idx]; !dup {
		b.Got++
	}
	b.Parts[idx] = chunk
	if total > 0 {
		b.Total = total
	}

	data, err := json.Marshal(b.Parts)
	if err != nil {
		return fmt.Errorf("encode rx buffer %s: %w", uid, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE rxparts SET total = ?, got = ?, data = ? WHERE uid = ?`,
		b.Total, b.Got, string(data), uid)
	if err != nil {
		return fmt.Errorf("append rx part %s: %w", uid, err)
	}
	return nil
}

// DeleteRxBuffer removes the buffer for uid. Missing buffers are not an
// error (END is idempotent).
func (s *Store) DeleteRxBuffer(ctx context.Context, uid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rxparts WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("delete rx buffer %s: %w", uid, err)
	}
	return nil
}

// GCRxBuffers deletes reassembly buffers older than ttl (transfers whose
// END never arrived). Returns the number of buffers reaped.
func (s *Store) GCRxBuffers(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := now() - int64(ttl.Seconds())
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rxparts WHERE created_ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("gc rx buffers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("gc rx buffers affected: %w", err)
	}
	return n, nil
}
