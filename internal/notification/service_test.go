package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	myMiddleware "go-social/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	items     []*Notification
	err       error
	lastLimit int
}

func (m *memStore) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, n)
	return nil
}

func (m *memStore) ListForUser(_ context.Context, userID string, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	var out []*Notification
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		if m.items[i].UserID == userID {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

type emitted struct {
	room, event string
	payload     any
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, room, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, emitted{room, event, payload})
}

const (
	alice = "0b6f3a52-6c1e-4f0e-9d0a-2f7a1c9e1a01"
	bob   = "5d2c8e4b-93a7-4b1f-8a66-0c4d7e2f3b02"
	post9 = "9a1e7c3d-2b4f-4e6a-b8c0-d5f1a2e3c409"
)

func newTestService() (*Service, *memStore, *recordingEmitter) {
	store := &memStore{}
	em := &recordingEmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, em, logger), store, em
}

func TestService_Notify(t *testing.T) {
	svc, store, em := newTestService()

	n, err := svc.Notify(context.Background(), &Notification{
		UserID:       alice,
		ActionUserID: bob,
		Type:         TypeFollow,
		Message:      "bob started following you",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
	require.Len(t, store.items, 1)
	require.Len(t, em.sent, 1)
	assert.Equal(t, alice, em.sent[0].room)
	assert.Equal(t, EventNewNotification, em.sent[0].event)
	assert.Same(t, n, em.sent[0].payload)
}

func TestService_Notify_Validation(t *testing.T) {
	tests := []struct {
		name string
		n    *Notification
	}{
		{"nil", nil},
		{"missing recipient", &Notification{Type: TypeLike, Message: "x"}},
		{"bad type", &Notification{UserID: alice, Type: "poke", Message: "x"}},
		{"empty message", &Notification{UserID: alice, Type: TypeComment}},
		{"malformed recipient", &Notification{UserID: "u1", Type: TypeLike, Message: "x"}},
		{"malformed actor", &Notification{UserID: alice, ActionUserID: "u2", Type: TypeLike, Message: "x"}},
		{"malformed post", &Notification{UserID: alice, Type: TypeLike, PostID: "p9", Message: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, em := newTestService()
			_, err := svc.Notify(context.Background(), tt.n)
			assert.True(t, errors.Is(err, ErrInvalid) || errors.Is(err, ErrInvalidType), "got %v", err)
			assert.Empty(t, store.items)
			assert.Empty(t, em.sent)
		})
	}
}

func TestService_Notify_InvalidTypeIsClassified(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Notify(context.Background(), &Notification{UserID: alice, Type: "poke", Message: "x"})
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestService_Notify_StoreFailureSuppressesPush(t *testing.T) {
	svc, store, em := newTestService()
	store.err = errors.New("db down")

	_, err := svc.Notify(context.Background(), &Notification{UserID: alice, Type: TypePost, Message: "new post"})
	assert.Error(t, err)
	assert.Empty(t, em.sent)
}

func TestService_List_ClampsLimit(t *testing.T) {
	svc, store, _ := newTestService()

	_, err := svc.List(context.Background(), alice, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultListLimit, store.lastLimit)

	_, err = svc.List(context.Background(), alice, 5000)
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, store.lastLimit)
}

func TestHandler_List(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Notify(ctx, &Notification{UserID: alice, Type: TypeLike, Message: "liked"})
	require.NoError(t, err)
	_, err = svc.Notify(ctx, &Notification{UserID: bob, Type: TypeLike, Message: "liked"})
	require.NoError(t, err)

	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications?limit=10", nil)
	req = req.WithContext(context.WithValue(req.Context(), myMiddleware.UserKey, alice))
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user":"`+alice+`"`)
	assert.NotContains(t, rec.Body.String(), `"user":"`+bob+`"`)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/notifications?limit=abc", nil)
	req = req.WithContext(context.WithValue(req.Context(), myMiddleware.UserKey, alice))
	rec = httptest.NewRecorder()
	h.List(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Create(t *testing.T) {
	svc, store, em := newTestService()
	h := NewHandler(svc)

	post := func(userID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/notifications", strings.NewReader(body))
		if userID != "" {
			req = req.WithContext(context.WithValue(req.Context(), myMiddleware.UserKey, userID))
		}
		rec := httptest.NewRecorder()
		h.Create(rec, req)
		return rec
	}

	rec := post(bob, `{"user":"`+alice+`","type":"comment","post":"`+post9+`","message":"bob commented"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got Notification
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, alice, got.UserID)
	assert.Equal(t, bob, got.ActionUserID, "actor comes from the token")
	assert.Equal(t, post9, got.PostID)
	require.Len(t, store.items, 1)
	require.Len(t, em.sent, 1)
	assert.Equal(t, alice, em.sent[0].room)

	assert.Equal(t, http.StatusUnauthorized, post("", `{"user":"`+alice+`","type":"like","message":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(bob, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(bob, `{"user":"`+alice+`","type":"poke","message":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(bob, `{"type":"like","message":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(bob, `{"user":"not-a-uuid","type":"like","message":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(bob, `{"user":"`+alice+`","type":"like","post":"p9","message":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("u2", `{"user":"`+alice+`","type":"like","message":"x"}`).Code)
	assert.Len(t, store.items, 1)

	store.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, post(bob, `{"user":"`+alice+`","type":"like","message":"x"}`).Code)
}
