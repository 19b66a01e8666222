package realtime

import (
	"context"

	"go-social/internal/event"
	"go-social/internal/message"
	"go-social/internal/user"
)

// UserStore is the slice of user persistence the realtime core needs.
type UserStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	Profile(ctx context.Context, userID string) (*user.Profile, error)
}

type EventStore interface {
	SetStatus(ctx context.Context, eventID string, status event.Status) error
	AddChat(ctx context.Context, chat *event.Chat) error
}

type MessageStore interface {
	Create(ctx context.Context, m *message.Message) error
	SetStatus(ctx context.Context, messageID string, status message.Status) (senderID string, changed bool, err error)
	CountUnseen(ctx context.Context, senderID, receiverID string) (int, error)
	CountUnseenFor(ctx context.Context, receiverID string) (int, error)
}

// Stores groups the persistence gateway handed to NewServer.
type Stores struct {
	Users    UserStore
	Events   EventStore
	Messages MessageStore
}
