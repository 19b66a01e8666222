package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go-social/internal/message"
	"go-social/internal/user"

	"github.com/google/uuid"
)

// Inbound event names. These are the wire contract with the web client.
const (
	EventJoin             = "join"
	EventLiveEvent        = "liveEvent"
	EventJoinEvent        = "joinEvent"
	EventEndEvent         = "endEvent"
	EventLeaveEvent       = "leaveEvent"
	EventSendEventMessage = "sendEventMessage"
	EventTyping           = "typing"
	EventSendMessage      = "sendMessage"
	EventMessageReceived  = "messageReceived"
	EventMessageSeen      = "messageSeen"
)

// Outbound event names.
const (
	EventUserOnlineStatus = "userOnlineStatus"
	EventWatchingUsers    = "watchingUsers"
	EventNewUser          = "newUser"
	EventEventEnded       = "eventEnded"
	EventNewMessage       = "newMessage"
	EventUserTyping       = "userTyping"
	EventReceiveMessage   = "receiveMessage"
	EventMessageStatus    = "messageStatus"
	EventTotalUnseenCount = "TotalUnseenCount"
	EventError            = "error"
)

const (
	maxTextLength   = 4000
	maxNameLength   = 255
	maxAvatarLength = 2048
)

// Frame is the JSON envelope exchanged over the websocket in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrForbidden      = errors.New("identity does not match the authenticated user")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

func requireID(field, value string) error {
	if value == "" {
		return invalid("%s is required", field)
	}
	if _, err := uuid.Parse(value); err != nil {
		return invalid("%s must be a UUID", field)
	}
	return nil
}

func requireText(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return limitText(field, value, max)
}

func limitText(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return invalid("%s exceeds %d characters", field, max)
	}
	return nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return invalid("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// decodeID reads a payload that is a bare id string.
func decodeID(data json.RawMessage, field string) (string, error) {
	var id string
	if err := decode(data, &id); err != nil {
		return "", err
	}
	return id, requireID(field, id)
}

type eventPayload struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId"`
}

func (p eventPayload) validate() error {
	if err := requireID("eventId", p.EventID); err != nil {
		return err
	}
	return requireID("userId", p.UserID)
}

type eventMessagePayload struct {
	EventID     string `json:"eventId"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	Text        string `json:"text"`
	IsAdminChat bool   `json:"isAdminChat"`
	RepliedTo   string `json:"repliedTo,omitempty"`
}

func (p eventMessagePayload) validate() error {
	if err := requireID("eventId", p.EventID); err != nil {
		return err
	}
	if err := requireID("userId", p.UserID); err != nil {
		return err
	}
	if p.RepliedTo != "" {
		if err := requireID("repliedTo", p.RepliedTo); err != nil {
			return err
		}
	}
	if err := limitText("name", p.Name, maxNameLength); err != nil {
		return err
	}
	if err := limitText("avatar", p.Avatar, maxAvatarLength); err != nil {
		return err
	}
	return requireText("text", p.Text, maxTextLength)
}

type typingPayload struct {
	RecipientID string `json:"recipientId"`
	UserID      string `json:"userId"`
	Typing      bool   `json:"typing"`
}

func (p typingPayload) validate() error {
	if err := requireID("recipientId", p.RecipientID); err != nil {
		return err
	}
	return requireID("userId", p.UserID)
}

type sendMessagePayload struct {
	SenderID    string     `json:"senderId"`
	RecipientID string     `json:"recipientId"`
	Content     string     `json:"content"`
	Time        *time.Time `json:"time,omitempty"`
}

func (p sendMessagePayload) validate() error {
	if err := requireID("senderId", p.SenderID); err != nil {
		return err
	}
	if err := requireID("recipientId", p.RecipientID); err != nil {
		return err
	}
	return requireText("content", p.Content, maxTextLength)
}

type presenceStatus struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type eventEnded struct {
	EventID string `json:"eventId"`
}

type chatMessage struct {
	ID       string        `json:"id"`
	User     string        `json:"user"`
	Content  string        `json:"content"`
	UserType string        `json:"userType"`
	Avatar   string        `json:"avatar"`
	UserID   string        `json:"userId"`
	ReplyTo  *user.Profile `json:"replyTo"`
}

type typingStatus struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

type receivedMessage struct {
	UserID      string           `json:"userId"`
	Message     *message.Message `json:"message"`
	UnseenCount int              `json:"unseenCount"`
}

type messageStatus struct {
	MessageID string         `json:"messageId"`
	Status    message.Status `json:"status"`
}

type totalUnseen struct {
	TotalUnseenCount int `json:"TotalUnseenCount"`
}

// errorAck tells the originating connection that its frame was not applied.
type errorAck struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
