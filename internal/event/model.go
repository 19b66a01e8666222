package event

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("event not found")
	// ErrEnded is returned when an ended event is asked to go live again.
	ErrEnded = errors.New("event already ended")
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusEnded:
		return true
	}
	return false
}

type Event struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Title   string `json:"title"`
	Status  Status `json:"status"`
}

// Chat is a single entry of an event's live chat. It is never mutated after creation.
type Chat struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	AuthorID    string    `json:"authorUserId"`
	Text        string    `json:"text"`
	IsAdminChat bool      `json:"isAdminChat"`
	RepliedTo   string    `json:"repliedTo,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
