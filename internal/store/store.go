// Package store persists all gateway state in SQLite: posts, key/value
// settings, admin and blacklist sets, sync peers, replication dedup sets,
// chunk reassembly buffers, and the store-and-forward DM queue.
//
// The store is the only component that touches the database; everything
// else goes through it. The driver is modernc.org/sqlite (pure Go) and the
// database runs in WAL mode so the packet pump, sync ticker, and watchdog
// can share one connection pool safely.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors for store lookups.
var (
	// ErrPostNotFound indicates no post exists with the requested id.
	ErrPostNotFound = errors.New("post not found")

	// ErrNoSuchKey indicates the kv table has no row for the key.
	ErrNoSuchKey = errors.New("no such key")

	// ErrBufferNotFound indicates no reassembly buffer exists for the UID.
	ErrBufferNotFound = errors.New("reassembly buffer not found")
)

// Store persists gateway state in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// The parent directory is created if missing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One connection: pragmas apply to every statement and the packet
	// pump, sync ticker, and watchdog serialize their writes.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger.With(slog.String("component", "store")),
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info("sqlite store opened", slog.String("path", path))
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate applies pragmas and the schema. All statements are idempotent.
func (s *Store) migrate(ctx context.Context) error {
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	author TEXT NOT NULL,
	body TEXT NOT NULL,
	reply_to INTEGER
);
CREATE INDEX IF NOT EXISTS idx_posts_reply_to ON posts(reply_to);

CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS admins (
	id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS blacklist (
	id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS peers (
	id TEXT PRIMARY KEY,
	last_seen INTEGER
);

CREATE TABLE IF NOT EXISTS seen_uids (
	uid TEXT PRIMARY KEY,
	ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS applied_uids (
	uid TEXT PRIMARY KEY,
	ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rxparts (
	uid TEXT PRIMARY KEY,
	total INTEGER NOT NULL,
	got INTEGER NOT NULL,
	data TEXT NOT NULL,
	from_id TEXT NOT NULL,
	created_ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dm_out (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	to_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_ts INTEGER NOT NULL,
	delivered_ts INTEGER
);
CREATE INDEX IF NOT EXISTS idx_dm_out_pending ON dm_out(to_id) WHERE delivered_ts IS NULL;
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}

	s.logger.Debug("sqlite migrations applied")
	return nil
}

// -------------------------------------------------------------------------
// Key/Value
// -------------------------------------------------------------------------

// Well-known kv keys.
const (
	KeyNotice          = "notice"
	KeyNoticeTS        = "notice_ts"
	KeyNoticeExpiresTS = "notice_expires_ts"
)

// SetKV inserts or replaces one kv row.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (k, v) VALUES (?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	if err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

// GetKV returns the value for key, or ErrNoSuchKey.
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("kv %s: %w", key, ErrNoSuchKey)
	}
	if err != nil {
		return "", fmt.Errorf("get kv %s: %w", key, err)
	}
	return v, nil
}

// DeleteKV removes one kv row. Missing keys are not an error.
func (s *Store) DeleteKV(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("delete kv %s: %w", key, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Health counters
// -------------------------------------------------------------------------

// Counts is a snapshot of table sizes for the health report.
type Counts struct {
	Posts      int64
	PendingDMs int64
	Admins     int64
	Blacklist  int64
	Peers      int64
	Applied    int64
	RxBuffers  int64
}

// TableCounts gathers the row counts reported by health and status; the kv
// and seen_uids tables are not counted.
func (s *Store) TableCounts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM posts`, &c.Posts},
		{`SELECT COUNT(*) FROM dm_out WHERE delivered_ts IS NULL`, &c.PendingDMs},
		{`SELECT COUNT(*) FROM admins`, &c.Admins},
		{`SELECT COUNT(*) FROM blacklist`, &c.Blacklist},
		{`SELECT COUNT(*) FROM peers`, &c.Peers},
		{`SELECT COUNT(*) FROM applied_uids`, &c.Applied},
		{`SELECT COUNT(*) FROM rxparts`, &c.RxBuffers},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("count tables: %w", err)
		}
	}
	return c, nil
}

// now returns wall time as epoch seconds. Split out so callers of the
// store share one definition of "now" for persisted timestamps (UTC).
func now() int64 { return time.Now().Unix() }
