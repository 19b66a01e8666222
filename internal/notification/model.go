package notification

import (
	"errors"
	"time"
)

var (
	ErrInvalid     = errors.New("invalid notification")
	ErrInvalidType = errors.New("invalid notification type")
)

type Type string

const (
	TypeFollow  Type = "follow"
	TypeLike    Type = "like"
	TypeComment Type = "comment"
	TypePost    Type = "post"
)

func (t Type) Valid() bool {
	switch t {
	case TypeFollow, TypeLike, TypeComment, TypePost:
		return true
	}
	return false
}

type Notification struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user"`
	ActionUserID string    `json:"actionUser,omitempty"`
	Type         Type      `json:"type"`
	PostID       string    `json:"post,omitempty"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
}
