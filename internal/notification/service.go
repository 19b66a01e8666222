package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventNewNotification is pushed to the recipient's user room.
const EventNewNotification = "newNotification"

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
}

// Emitter delivers a realtime event to every connection in a room.
type Emitter interface {
	Emit(ctx context.Context, room, event string, payload any)
}

type Service struct {
	store  Store
	emit   Emitter
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, emit Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		emit:   emit,
		logger: logger,
		now:    time.Now,
	}
}

// Notify persists n and pushes it to the recipient. Nothing is pushed when the
// write fails.
func (s *Service) Notify(ctx context.Context, n *Notification) (*Notification, error) {
	if n == nil || n.UserID == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalid)
	}
	if err := checkIDs(n); err != nil {
		return nil, err
	}
	if !n.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, n.Type)
	}
	if n.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalid)
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}

	s.emit.Emit(ctx, n.UserID, EventNewNotification, n)
	s.logger.Debug("notification pushed", "userID", n.UserID, "type", n.Type)
	return n, nil
}

func checkIDs(n *Notification) error {
	ids := []struct{ field, value string }{
		{"user", n.UserID},
		{"actionUser", n.ActionUserID},
		{"post", n.PostID},
	}
	for _, id := range ids {
		if id.value == "" {
			continue
		}
		if _, err := uuid.Parse(id.value); err != nil {
			return fmt.Errorf("%w: %s must be a uuid", ErrInvalid, id.field)
		}
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListForUser(ctx, userID, limit)
}
