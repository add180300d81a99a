package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// The admin, blacklist, and peer sets share the same idempotent insert /
// delete shape. All mutations are safe to repeat; membership checks never
// error on absence.

// -------------------------------------------------------------------------
// Admins
// -------------------------------------------------------------------------

// AddAdmin adds id to the admin set. Repeats are no-ops.
func (s *Store) AddAdmin(ctx context.Context, id string) error {
	return s.setInsert(ctx, "admins", id)
}

// RemoveAdmin removes id from the admin set.
func (s *Store) RemoveAdmin(ctx context.Context, id string) error {
	return s.setDelete(ctx, "admins", id)
}

// IsAdmin reports membership in the admin set.
func (s *Store) IsAdmin(ctx context.Context, id string) (bool, error) {
	return s.setContains(ctx, "admins", id)
}

// Admins lists the admin set.
func (s *Store) Admins(ctx context.Context) ([]string, error) {
	return s.setList(ctx, "admins")
}

// AdminCount returns the size of the admin set. Zero means the gateway is
// in bootstrap mode and every sender is treated as admin.
func (s *Store) AdminCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

// -------------------------------------------------------------------------
// Blacklist
// -------------------------------------------------------------------------

// AddBlacklist adds id to the blacklist. Repeats are no-ops.
func (s *Store) AddBlacklist(ctx context.Context, id string) error {
	return s.setInsert(ctx, "blacklist", id)
}

// RemoveBlacklist removes id from the blacklist.
func (s *Store) RemoveBlacklist(ctx context.Context, id string) error {
	return s.setDelete(ctx, "blacklist", id)
}

// IsBlacklisted reports membership in the blacklist.
func (s *Store) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	return s.setContains(ctx, "blacklist", id)
}

// Blacklist lists the blacklist.
func (s *Store) Blacklist(ctx context.Context) ([]string, error) {
	return s.setList(ctx, "blacklist")
}

// -------------------------------------------------------------------------
// Peers
// -------------------------------------------------------------------------

// AddPeer adds id to the sync peer set. Repeats are no-ops.
func (s *Store) AddPeer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO peers (id, last_seen) VALUES (?, NULL)`, id)
	if err != nil {
		return fmt.Errorf("add peer %s: %w", id, err)
	}
	return nil
}

// RemovePeer removes id from the sync peer set.
func (s *Store) RemovePeer(ctx context.Context, id string) error {
	return s.setDelete(ctx, "peers", id)
}

// IsPeer reports membership in the sync peer set.
func (s *Store) IsPeer(ctx context.Context, id string) (bool, error) {
	return s.setContains(ctx, "peers", id)
}

// Peers lists the sync peer set.
func (s *Store) Peers(ctx context.Context) ([]string, error) {
	return s.setList(ctx, "peers")
}

// TouchPeer records the wall time a sync frame was last received from id.
func (s *Store) TouchPeer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE peers SET last_seen = ? WHERE id = ?`, now(), id)
	if err != nil {
		return fmt.Errorf("touch peer %s: %w", id, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Shared set plumbing
// -------------------------------------------------------------------------

// The table name is always one of the compile-time constants above, never
// caller input, so string interpolation here is safe.

func (s *Store) setInsert(ctx context.Context, table, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO `+table+` (id) VALUES (?)`, id)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", table, id, err)
	}
	return nil
}

func (s *Store) setDelete(ctx context.Context, table, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

func (s *Store) setContains(ctx context.Context, table, id string) (bool, error) {
	var one int64
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s %s: %w", table, id, err)
	}
	return true, nil
}

func (s *Store) setList(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
