package realtime

import (
	"context"
	"log/slog"

	"go-social/internal/event"
	"go-social/internal/user"

	"github.com/google/uuid"
)

// EventChat persists live-event chat entries and fans them out to the event room.
type EventChat struct {
	hub    *Hub
	events EventStore
	users  UserStore
	logger *slog.Logger
}

func NewEventChat(hub *Hub, events EventStore, users UserStore, logger *slog.Logger) *EventChat {
	return &EventChat{hub: hub, events: events, users: users, logger: logger}
}

// ChatMessage is what a client posts to an event's chat.
type ChatMessage struct {
	EventID     string
	UserID      string
	Name        string
	Avatar      string
	Text        string
	IsAdminChat bool
	RepliedTo   string
}

func userType(isAdminChat bool) string {
	if isAdminChat {
		return "admin"
	}
	return "default"
}

// Send resolves who the chat replies to, stores it and broadcasts it.
// Nothing is stored or broadcast unless every step succeeds.
func (ec *EventChat) Send(ctx context.Context, m ChatMessage) (*event.Chat, error) {
	var replyTo *user.Profile
	if m.RepliedTo != "" {
		p, err := ec.users.Profile(ctx, m.RepliedTo)
		if err != nil {
			ec.logger.Error("failed to resolve replied-to user", "eventID", m.EventID, "repliedTo", m.RepliedTo, "error", err)
			return nil, err
		}
		replyTo = p
	}

	chat := &event.Chat{
		ID:          uuid.NewString(),
		EventID:     m.EventID,
		AuthorID:    m.UserID,
		Text:        m.Text,
		IsAdminChat: m.IsAdminChat,
		RepliedTo:   m.RepliedTo,
	}
	if err := ec.events.AddChat(ctx, chat); err != nil {
		ec.logger.Error("failed to store event chat", "eventID", m.EventID, "userID", m.UserID, "error", err)
		return nil, err
	}

	ec.hub.Emit(ctx, m.EventID, EventNewMessage, chatMessage{
		ID:       chat.ID,
		User:     m.Name,
		Content:  m.Text,
		UserType: userType(m.IsAdminChat),
		Avatar:   m.Avatar,
		UserID:   m.UserID,
		ReplyTo:  replyTo,
	})
	return chat, nil
}
