package realtime

import (
	"context"
	"testing"

	"go-social/internal/event"
	"go-social/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventChat_BroadcastsWithReplyProfile(t *testing.T) {
	author, target := newUser("author"), newUser("target")
	ev := &event.Event{ID: newID(), OwnerID: author.ID, Status: event.StatusLive}
	events := newMemEvents(ev)
	h := NewHub(nil, testLogger())
	ec := NewEventChat(h, events, newMemUsers(author, target), testLogger())

	watcher := newTestConn(h, "")
	outsider := newTestConn(h, "")
	h.BindEvent(watcher, ev.ID, target.ID)

	chat, err := ec.Send(context.Background(), ChatMessage{
		EventID:     ev.ID,
		UserID:      author.ID,
		Name:        "Author",
		Avatar:      "https://img.example.com/a.png",
		Text:        "hello @target",
		IsAdminChat: true,
		RepliedTo:   target.ID,
	})
	require.NoError(t, err)

	frames := drain(t, watcher)
	require.Equal(t, []string{EventNewMessage}, names(frames))
	got := dataAs[chatMessage](t, frames[0])
	assert.Equal(t, chat.ID, got.ID)
	assert.Equal(t, "Author", got.User)
	assert.Equal(t, "hello @target", got.Content)
	assert.Equal(t, "admin", got.UserType)
	assert.Equal(t, author.ID, got.UserID)
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, *target.Profile(), *got.ReplyTo)

	assert.Empty(t, drain(t, outsider))

	chats := events.chatsOf(ev.ID)
	require.Len(t, chats, 1, "stored exactly once")
	assert.Equal(t, chat.ID, chats[0].ID)
	assert.Equal(t, target.ID, chats[0].RepliedTo)
}

func TestEventChat_PlainMessage(t *testing.T) {
	author := newUser("author")
	ev := &event.Event{ID: newID(), Status: event.StatusLive}
	h := NewHub(nil, testLogger())
	ec := NewEventChat(h, newMemEvents(ev), newMemUsers(author), testLogger())
	watcher := newTestConn(h, "")
	h.Join(watcher, ev.ID)

	_, err := ec.Send(context.Background(), ChatMessage{EventID: ev.ID, UserID: author.ID, Text: "hi"})
	require.NoError(t, err)

	got := dataAs[chatMessage](t, drain(t, watcher)[0])
	assert.Equal(t, "default", got.UserType)
	assert.Nil(t, got.ReplyTo)
}

func TestEventChat_FailuresBroadcastNothing(t *testing.T) {
	author := newUser("author")
	ev := &event.Event{ID: newID(), Status: event.StatusLive}

	tests := []struct {
		name    string
		msg     ChatMessage
		wantErr error
	}{
		{
			name:    "unknown event",
			msg:     ChatMessage{EventID: newID(), UserID: author.ID, Text: "hi"},
			wantErr: event.ErrNotFound,
		},
		{
			name:    "unknown replied-to user",
			msg:     ChatMessage{EventID: ev.ID, UserID: author.ID, Text: "hi", RepliedTo: newID()},
			wantErr: user.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := newMemEvents(ev)
			h := NewHub(nil, testLogger())
			ec := NewEventChat(h, events, newMemUsers(author), testLogger())
			watcher := newTestConn(h, "")
			h.Join(watcher, ev.ID)
			h.Join(watcher, tt.msg.EventID)

			_, err := ec.Send(context.Background(), tt.msg)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, drain(t, watcher))
			assert.Empty(t, events.chatsOf(ev.ID))
		})
	}
}
