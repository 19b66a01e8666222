package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopBus echoes every published envelope back, like a single Redis subscriber.
type loopBus struct {
	ch  chan Envelope
	err error
}

func newLoopBus() *loopBus { return &loopBus{ch: make(chan Envelope, 64)} }

func (b *loopBus) Publish(_ context.Context, env Envelope) error {
	if b.err != nil {
		return b.err
	}
	b.ch <- env
	return nil
}

func (b *loopBus) Messages() <-chan Envelope { return b.ch }
func (b *loopBus) Close() error              { return nil }

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := NewHub(nil, testLogger())
	c := newTestConn(h, "")

	h.Join(c, "room")
	h.Join(c, "room")
	assert.Equal(t, 1, h.Members("room"))

	h.Emit(context.Background(), "room", "ping", 1)
	assert.Len(t, drain(t, c), 1, "a doubly joined connection gets one copy")
}

func TestHub_LeaveAbsentIsNoop(t *testing.T) {
	h := NewHub(nil, testLogger())
	c := newTestConn(h, "")

	h.Leave(c, "nowhere")
	h.Join(c, "room")
	h.Leave(c, "room")
	h.Leave(c, "room")

	assert.Equal(t, 0, h.Members("room"))
}

func TestHub_JoinIgnoresUnregisteredConn(t *testing.T) {
	h := NewHub(nil, testLogger())
	c := newConn(nil, "", defaultMaxInFlight)

	h.Join(c, "room")
	assert.Equal(t, 0, h.Members("room"))
}

func TestHub_EmitReachesOnlyRoomInOrder(t *testing.T) {
	h := NewHub(nil, testLogger())
	in := newTestConn(h, "")
	out := newTestConn(h, "")
	h.Join(in, "room")

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.Emit(ctx, "room", "tick", i)
	}

	frames := drain(t, in)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, i, dataAs[int](t, f))
	}
	assert.Empty(t, drain(t, out))
}

func TestHub_EmitAllReachesEveryConn(t *testing.T) {
	h := NewHub(nil, testLogger())
	a := newTestConn(h, "")
	b := newTestConn(h, "")
	h.Join(a, "room")

	h.EmitAll(context.Background(), "hello", "world")

	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 1)
}

func TestHub_DisconnectRunsCallbacksOnce(t *testing.T) {
	h := NewHub(nil, testLogger())
	var calls atomic.Int32
	h.OnDisconnect(func(ctx context.Context, c *Conn) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		calls.Add(1)
	})

	c := newTestConn(h, "")
	h.Join(c, "a")
	h.Join(c, "b")

	h.Disconnect(c)
	h.Disconnect(c)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, h.Members("a"))
	assert.Equal(t, 0, h.Members("b"))

	_, open := <-c.send
	assert.False(t, open, "send queue is closed")

	// Emitting to a departed connection must not panic.
	h.EmitAll(context.Background(), "late", nil)
}

func TestHub_EmitAndCloseEmptiesRoom(t *testing.T) {
	h := NewHub(nil, testLogger())
	c := newTestConn(h, "")
	h.BindEvent(c, "event-1", "viewer-1")

	h.EmitAndClose(context.Background(), "event-1", "bye", nil)

	assert.Equal(t, []string{"bye"}, names(drain(t, c)))
	assert.Equal(t, 0, h.Members("event-1"))
	assert.Empty(t, c.EventID())
	assert.Empty(t, c.ViewerID())

	h.Emit(context.Background(), "event-1", "after", nil)
	assert.Empty(t, drain(t, c))
}

func TestHub_BindUserSwitchesRooms(t *testing.T) {
	h := NewHub(nil, testLogger())
	c := newTestConn(h, "")

	prev, ok := h.BindUser(c, "u1")
	assert.True(t, ok)
	assert.Empty(t, prev)

	prev, ok = h.BindUser(c, "u2")
	assert.True(t, ok)
	assert.Equal(t, "u1", prev)
	assert.Equal(t, 0, h.Members("u1"))
	assert.Equal(t, 1, h.Members("u2"))
}

func TestHub_BindAfterDisconnectIsRefused(t *testing.T) {
	h := NewHub(nil, testLogger())
	c := newTestConn(h, "")
	h.Disconnect(c)
	assert.False(t, h.Registered(c))

	_, ok := h.BindUser(c, "u1")
	assert.False(t, ok)
	assert.Empty(t, c.UserID())
	assert.Equal(t, 0, h.Members("u1"))

	_, _, ok = h.BindEvent(c, "e", "u1")
	assert.False(t, ok)
	assert.Empty(t, c.EventID())
	assert.Equal(t, 0, h.Members("e"))
}

func TestHub_HasViewerExcludesConn(t *testing.T) {
	h := NewHub(nil, testLogger())
	a := newTestConn(h, "")
	b := newTestConn(h, "")
	h.BindEvent(a, "e", "u")

	assert.False(t, h.HasViewer("e", "u", a))
	assert.True(t, h.HasViewer("e", "u", b))

	h.BindEvent(b, "e", "u")
	assert.True(t, h.HasViewer("e", "u", a))
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	h := NewHub(nil, testLogger())
	c := newTestConn(h, "")
	h.Join(c, "room")

	for i := 0; i < sendBufferSize+1; i++ {
		h.Emit(context.Background(), "room", "flood", i)
	}

	require.Eventually(t, func() bool { return h.Members("room") == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_RunDeliversFromBus(t *testing.T) {
	bus := newLoopBus()
	h := NewHub(bus, testLogger())
	c := newTestConn(h, "")
	h.Join(c, "room")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	h.Emit(ctx, "room", "via-bus", "x")
	require.Eventually(t, func() bool { return len(c.send) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"via-bus"}, names(drain(t, c)))

	cancel()
	require.NoError(t, <-done)

	_, open := <-c.send
	assert.False(t, open, "shutdown disconnects every connection")
}

func TestHub_PublishFailureDeliversLocally(t *testing.T) {
	bus := newLoopBus()
	bus.err = errors.New("redis down")
	h := NewHub(bus, testLogger())
	c := newTestConn(h, "")
	h.Join(c, "room")

	h.Emit(context.Background(), "room", "fallback", nil)

	assert.Equal(t, []string{"fallback"}, names(drain(t, c)))
}

func TestHub_RunFailsWhenBusCloses(t *testing.T) {
	bus := newLoopBus()
	h := NewHub(bus, testLogger())
	close(bus.ch)

	assert.Error(t, h.Run(context.Background()))
}
