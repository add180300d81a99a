package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Post is one board message. Replicated posts carry a "[peer]!xxxxxxxx"
// author; local posts carry the sender's canonical id.
type Post struct {
	ID      int64
	TS      int64
	Author  string
	Body    string
	ReplyTo *int64
}

// CreatePost inserts a post and returns its assigned id. The id sequence
// is gateway-local; replication identifies transfers by UID, never by id.
func (s *Store) CreatePost(ctx context.Context, ts int64, author, body string, replyTo *int64) (int64, error) {
	if ts == 0 {
		ts = now()
	}

	var reply sql.NullInt64
	if replyTo != nil {
		reply = sql.NullInt64{Int64: *replyTo, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (ts, author, body, reply_to) VALUES (?, ?, ?, ?)`,
		ts, author, body, reply)
	if err != nil {
		return 0, fmt.Errorf("create post: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create post id: %w", err)
	}
	return id, nil
}

// PostByID returns one post, or ErrPostNotFound.
func (s *Store) PostByID(ctx context.Context, id int64) (Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts, author, body, reply_to FROM posts WHERE id = ?`, id)

	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, fmt.Errorf("post %d: %w", id, ErrPostNotFound)
	}
	if err != nil {
		return Post{}, fmt.Errorf("get post %d: %w", id, err)
	}
	return p, nil
}

// RecentPosts returns up to limit posts, newest first.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, author, body, reply_to FROM posts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// Replies returns all posts whose reply_to is id, ordered by id ascending.
func (s *Store) Replies(ctx context.Context, id int64) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, author, body, reply_to FROM posts WHERE reply_to = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("replies of %d: %w", id, err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// RecentPostIDs returns the ids of the most recent limit posts in
// ascending order, as advertised in sync inventories.
func (s *Store) RecentPostIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM (SELECT id FROM posts ORDER BY id DESC LIMIT ?) ORDER BY id`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent post ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan post id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MissingPostIDs filters ids down to those with no local post row.
// Order of the input is preserved.
func (s *Store) MissingPostIDs(ctx context.Context, ids []int64) ([]int64, error) {
	var missing []int64
	for _, id := range ids {
		var one int64
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("check post %d: %w", id, err)
		}
	}
	return missing, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanPost.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (Post, error) {
	var p Post
	var reply sql.NullInt64
	if err := r.Scan(&p.ID, &p.TS, &p.Author, &p.Body, &reply); err != nil {
		return Post{}, err
	}
	if reply.Valid {
		p.ReplyTo = &reply.Int64
	}
	return p, nil
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
