package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const cleanupTimeout = 10 * time.Second

// DisconnectFunc is run once for every connection that leaves the hub.
type DisconnectFunc func(ctx context.Context, c *Conn)

// Hub is the connection registry. It maps room ids (user ids and event ids)
// to the set of live connections and fans frames out to them.
//
// Emit and EmitAll go through the Bus when one is configured so every instance
// delivers to its own members; otherwise delivery is in-process.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
	rooms map[string]map[*Conn]struct{}

	onDisconnect []DisconnectFunc

	bus    Bus
	logger *slog.Logger
}

func NewHub(bus Bus, logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[*Conn]struct{}),
		rooms:  make(map[string]map[*Conn]struct{}),
		bus:    bus,
		logger: logger,
	}
}

// OnDisconnect registers a cleanup callback. Register callbacks before serving connections.
func (h *Hub) OnDisconnect(fn DisconnectFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("connection registered", "connID", c.id, "total", total)
}

// Join adds c to room. Joining twice is a no-op.
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, room)
}

func (h *Hub) joinLocked(c *Conn, room string) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Leave removes c from room. Leaving a room c is not in is a no-op.
func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Registered reports whether c is still connected to the hub.
func (h *Hub) Registered(c *Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[c]
	return ok
}

// BindUser makes userID the user room of c, leaving the previous one.
// It returns the previous user id, and false without touching c once c has
// been disconnected.
func (h *Hub) BindUser(c *Conn, userID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return "", false
	}

	c.mu.Lock()
	prev := c.userID
	c.userID = userID
	c.mu.Unlock()

	if prev != "" && prev != userID {
		h.leaveLocked(c, prev)
	}
	h.joinLocked(c, userID)
	return prev, true
}

// BindEvent makes eventID the event room of c and records viewerID as the
// roster identity of the connection. A connection watches one event at a time,
// so the previous event room is left first. The previous binding is returned;
// ok is false, and nothing changes, once c has been disconnected.
func (h *Hub) BindEvent(c *Conn, eventID, viewerID string) (prevEvent, prevViewer string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return "", "", false
	}

	c.mu.Lock()
	prevEvent, prevViewer = c.eventID, c.viewerID
	c.eventID, c.viewerID = eventID, viewerID
	c.mu.Unlock()

	if prevEvent != "" && prevEvent != eventID {
		h.leaveLocked(c, prevEvent)
	}
	h.joinLocked(c, eventID)
	return prevEvent, prevViewer, true
}

// UnbindEvent removes c from eventID's room and clears its binding if it matches.
func (h *Hub) UnbindEvent(c *Conn, eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.mu.Lock()
	if c.eventID == eventID {
		c.eventID, c.viewerID = "", ""
	}
	c.mu.Unlock()

	h.leaveLocked(c, eventID)
}

// HasViewer reports whether a connection other than except is watching
// eventID as userID.
func (h *Hub) HasViewer(eventID, userID string, except *Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[eventID] {
		if c != except && c.ViewerID() == userID {
			return true
		}
	}
	return false
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Emit delivers payload as event to every connection in room. Delivery is
// best effort: slow connections are dropped and nothing is retried.
func (h *Hub) Emit(ctx context.Context, room, event string, payload any) {
	h.publish(ctx, Envelope{Room: room}, event, payload)
}

// EmitAll delivers payload to every connection on every instance.
func (h *Hub) EmitAll(ctx context.Context, event string, payload any) {
	h.publish(ctx, Envelope{Global: true}, event, payload)
}

// EmitAndClose delivers payload to room and then empties the room, on every instance.
func (h *Hub) EmitAndClose(ctx context.Context, room, event string, payload any) {
	h.publish(ctx, Envelope{Room: room, CloseRoom: true}, event, payload)
}

// SendTo delivers a frame to a single connection.
func (h *Hub) SendTo(c *Conn, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.enqueueLocked(c, frame)
}

func (h *Hub) publish(ctx context.Context, env Envelope, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "error", err)
		return
	}
	env.Frame = frame

	if h.bus == nil {
		h.deliver(env)
		return
	}
	if err := h.bus.Publish(ctx, env); err != nil {
		// Local members still get it; other instances miss this one.
		h.logger.Error("fanout publish failed, delivering locally", "event", event, "room", env.Room, "error", err)
		h.deliver(env)
	}
}

func (h *Hub) deliver(env Envelope) {
	if env.CloseRoom {
		h.deliverAndClose(env)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if env.Global {
		for c := range h.conns {
			h.enqueueLocked(c, env.Frame)
		}
		return
	}
	for c := range h.rooms[env.Room] {
		h.enqueueLocked(c, env.Frame)
	}
}

func (h *Hub) deliverAndClose(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[env.Room] {
		h.enqueueLocked(c, env.Frame)
		c.mu.Lock()
		if c.eventID == env.Room {
			c.eventID, c.viewerID = "", ""
		}
		c.mu.Unlock()
	}
	delete(h.rooms, env.Room)
}

// enqueueLocked must be called with h.mu held; a registered connection's queue
// is only closed after it has been removed under the write lock.
func (h *Hub) enqueueLocked(c *Conn, frame []byte) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("dropping slow connection", "connID", c.id)
		go h.Disconnect(c)
	}
}

// Disconnect removes c from the hub and every room, closes its queue and runs
// the cleanup callbacks. Only the first call has any effect.
func (h *Hub) Disconnect(c *Conn) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.conns, c)
		for room, members := range h.rooms {
			if _, ok := members[c]; ok {
				delete(members, c)
				if len(members) == 0 {
					delete(h.rooms, room)
				}
			}
		}
		callbacks := append([]DisconnectFunc(nil), h.onDisconnect...)
		total := len(h.conns)
		h.mu.Unlock()

		close(c.send)
		h.logger.Debug("connection closed", "connID", c.id, "userID", c.UserID(), "total", total)

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		for _, fn := range callbacks {
			fn(ctx, c)
		}
	})
}

// Run delivers frames arriving from the bus until ctx is cancelled, then
// disconnects every connection.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	if h.bus == nil {
		<-ctx.Done()
		return nil
	}

	msgs := h.bus.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-msgs:
			if !ok {
				return errors.New("fanout subscription closed")
			}
			h.deliver(env)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.Disconnect(c)
	}
	h.logger.Info("hub stopped", "closed", len(conns))
}

// Envelope is a frame addressed to a room, or to everyone, as it travels
// between instances.
type Envelope struct {
	Room      string          `json:"room,omitempty"`
	Global    bool            `json:"global,omitempty"`
	CloseRoom bool            `json:"closeRoom,omitempty"`
	Frame     json.RawMessage `json:"frame"`
}
