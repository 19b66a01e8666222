package message

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("message not found")

// Status is the delivery state of a direct message. It only ever moves forward:
// sent -> received -> seen.
type Status string

const (
	StatusSent     Status = "sent"
	StatusReceived Status = "received"
	StatusSeen     Status = "seen"
)

// Rank orders statuses along the delivery lifecycle. Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusReceived:
		return 1
	case StatusSeen:
		return 2
	}
	return -1
}

// Advances reports whether moving from s to next is a forward transition.
func (s Status) Advances(next Status) bool {
	return next.Rank() > s.Rank() && s.Rank() >= 0
}

type Message struct {
	ID       string    `json:"id"`
	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver"`
	Content  string    `json:"content"`
	Time     time.Time `json:"time"`
	Status   Status    `json:"status"`
}
