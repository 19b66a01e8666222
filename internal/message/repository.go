package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, m *Message) error {
	query := `INSERT INTO messages (id, sender_id, receiver_id, content, sent_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.Sender, m.Receiver, m.Content, m.Time, string(m.Status))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// SetStatus advances a message to status in a single conditional update. It
// returns the original sender and whether the row changed; a backwards or
// repeated transition leaves the row untouched and reports changed=false.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status) (string, bool, error) {
	if status.Rank() < 0 {
		return "", false, fmt.Errorf("invalid message status %q", status)
	}

	query := `
		WITH target AS (
			SELECT id, sender_id FROM messages WHERE id = $1
		), upd AS (
			UPDATE messages m SET status = $2
			WHERE m.id = $1
				AND (CASE m.status WHEN 'sent' THEN 0 WHEN 'received' THEN 1 ELSE 2 END) < $3
			RETURNING m.id
		)
		SELECT sender_id::text, EXISTS (SELECT 1 FROM upd) FROM target
	`

	var sender string
	var changed bool
	err := r.db.QueryRowContext(ctx, query, id, string(status), status.Rank()).Scan(&sender, &changed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, ErrNotFound
		}
		return "", false, fmt.Errorf("set message %s status: %w", id, err)
	}
	return sender, changed, nil
}

// CountUnseen counts messages from sender to receiver that are not seen yet.
func (r *Repository) CountUnseen(ctx context.Context, sender, receiver string) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM messages WHERE sender_id = $1 AND receiver_id = $2 AND status <> 'seen'"
	if err := r.db.QueryRowContext(ctx, query, sender, receiver).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unseen: %w", err)
	}
	return n, nil
}

// CountUnseenFor counts every message addressed to receiver that is not seen yet.
func (r *Repository) CountUnseenFor(ctx context.Context, receiver string) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND status <> 'seen'"
	if err := r.db.QueryRowContext(ctx, query, receiver).Scan(&n); err != nil {
		return 0, fmt.Errorf("count total unseen: %w", err)
	}
	return n, nil
}
