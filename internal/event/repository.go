package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SetStatus moves an event to the given status. Ended is terminal: asking an
// ended event to go live fails with ErrEnded, re-ending it is a no-op.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid event status %q", status)
	}

	query := `
		WITH target AS (
			SELECT id, status FROM events WHERE id = $1 FOR UPDATE
		), upd AS (
			UPDATE events e SET status = $2
			FROM target t
			WHERE e.id = t.id AND (t.status <> 'ended' OR $2 = 'ended')
			RETURNING e.id
		)
		SELECT EXISTS (SELECT 1 FROM upd) FROM target
	`

	var updated bool
	err := r.db.QueryRowContext(ctx, query, id, string(status)).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("set event %s status: %w", id, err)
	}
	if !updated {
		return ErrEnded
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Event, error) {
	e := &Event{}
	var status string
	query := "SELECT id, COALESCE(owner_id::text, ''), title, status FROM events WHERE id = $1"

	err := r.db.QueryRowContext(ctx, query, id).Scan(&e.ID, &e.OwnerID, &e.Title, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find event %s: %w", id, err)
	}
	e.Status = Status(status)
	return e, nil
}

// AddChat stores the chat and appends it to its event's chat list in one
// transaction. The event row is locked so a concurrent delete cannot orphan it.
func (r *Repository) AddChat(ctx context.Context, chat *Chat) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add chat: %w", err)
	}
	defer tx.Rollback()

	var eventID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM events WHERE id = $1 FOR UPDATE", chat.EventID).Scan(&eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock event %s: %w", chat.EventID, err)
	}

	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	var repliedTo sql.NullString
	if chat.RepliedTo != "" {
		repliedTo = sql.NullString{String: chat.RepliedTo, Valid: true}
	}

	query := `INSERT INTO event_chats (id, event_id, author_id, text, is_admin_chat, replied_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, query,
		chat.ID, chat.EventID, chat.AuthorID, chat.Text, chat.IsAdminChat, repliedTo, chat.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add chat: %w", err)
	}
	return nil
}

// ChatIDs lists an event's chat ids in the order they were added.
func (r *Repository) ChatIDs(ctx context.Context, eventID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM event_chats WHERE event_id = $1 ORDER BY created_at, id", eventID)
	if err != nil {
		return nil, fmt.Errorf("list chats of %s: %w", eventID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
