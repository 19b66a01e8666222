package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"go-social/internal/event"
	"go-social/internal/message"
	"go-social/internal/user"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newID() string { return uuid.NewString() }

// newTestConn registers a connection with no socket behind it; frames queued
// for it are read back with drain.
func newTestConn(h *Hub, authUserID string) *Conn {
	c := newConn(nil, authUserID, defaultMaxInFlight)
	h.Register(c)
	return c
}

// drain returns every frame queued for c so far.
func drain(t *testing.T, c *Conn) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return frames
			}
			var f Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func named(frames []Frame, event string) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func names(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}
	return out
}

func dataAs[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

type memUsers struct {
	mu        sync.Mutex
	users     map[string]*user.User
	onlineErr error
	onlineLog []bool

	// beforeOnline runs once, ahead of the next write that marks a user online.
	beforeOnline func()
}

func newMemUsers(users ...*user.User) *memUsers {
	m := &memUsers{users: make(map[string]*user.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) SetOnline(_ context.Context, userID string, online bool) error {
	m.mu.Lock()
	var hook func()
	if online {
		hook, m.beforeOnline = m.beforeOnline, nil
	}
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onlineErr != nil {
		return m.onlineErr
	}
	u, ok := m.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.Online = online
	m.onlineLog = append(m.onlineLog, online)
	return nil
}

func (m *memUsers) Profile(_ context.Context, userID string) (*user.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u.Profile(), nil
}

func (m *memUsers) online(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].Online
}

type memEvents struct {
	mu     sync.Mutex
	events map[string]*event.Event
	chats  map[string][]*event.Chat
}

func newMemEvents(events ...*event.Event) *memEvents {
	m := &memEvents{events: make(map[string]*event.Event), chats: make(map[string][]*event.Chat)}
	for _, e := range events {
		m.events[e.ID] = e
	}
	return m
}

func (m *memEvents) SetStatus(_ context.Context, eventID string, status event.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return event.ErrNotFound
	}
	if e.Status == event.StatusEnded && status != event.StatusEnded {
		return event.ErrEnded
	}
	e.Status = status
	return nil
}

func (m *memEvents) AddChat(_ context.Context, chat *event.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[chat.EventID]; !ok {
		return event.ErrNotFound
	}
	m.chats[chat.EventID] = append(m.chats[chat.EventID], chat)
	return nil
}

func (m *memEvents) status(eventID string) event.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[eventID].Status
}

func (m *memEvents) chatsOf(eventID string) []*event.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*event.Chat(nil), m.chats[eventID]...)
}

type memMessages struct {
	mu   sync.Mutex
	msgs map[string]*message.Message
	err  error
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: make(map[string]*message.Message)}
}

func (m *memMessages) Create(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *msg
	m.msgs[msg.ID] = &cp
	return nil
}

func (m *memMessages) SetStatus(_ context.Context, messageID string, status message.Status) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return "", false, message.ErrNotFound
	}
	if !msg.Status.Advances(status) {
		return msg.Sender, false, nil
	}
	msg.Status = status
	return msg.Sender, true, nil
}

func (m *memMessages) CountUnseen(_ context.Context, senderID, receiverID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.msgs {
		if msg.Sender == senderID && msg.Receiver == receiverID && msg.Status != message.StatusSeen {
			n++
		}
	}
	return n, nil
}

func (m *memMessages) CountUnseenFor(_ context.Context, receiverID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.msgs {
		if msg.Receiver == receiverID && msg.Status != message.StatusSeen {
			n++
		}
	}
	return n, nil
}

func (m *memMessages) status(messageID string) message.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msgs[messageID].Status
}

var errStoreDown = errors.New("store unavailable")

func newUser(name string) *user.User {
	return &user.User{
		ID:         newID(),
		Username:   name,
		Name:       name + " Doe",
		ProfileImg: "https://img.example.com/" + name + ".png",
	}
}
