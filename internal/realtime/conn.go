package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	sendBufferSize = 256
)

// Conn is one live transport connection. The hub owns its room membership;
// the identity fields are set by join, liveEvent and joinEvent.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	// authUserID is the identity proven by the handshake token, empty when unauthenticated.
	authUserID string

	mu       sync.Mutex
	userID   string
	eventID  string
	viewerID string

	// inflight bounds the frames of this connection being handled at once.
	inflight *semaphore.Weighted

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, authUserID string, maxInFlight int64) *Conn {
	return &Conn{
		id:         uuid.NewString(),
		ws:         ws,
		send:       make(chan []byte, sendBufferSize),
		authUserID: authUserID,
		inflight:   semaphore.NewWeighted(maxInFlight),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) EventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventID
}

// ViewerID is the user id this connection registered in the event roster.
func (c *Conn) ViewerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewerID
}

// readPump reads frames until the peer goes away and hands each one to dispatch.
func (c *Conn) readPump(h *Hub, readLimit int64, dispatch func(*Conn, []byte)) {
	defer func() {
		h.Disconnect(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "connID", c.id, "error", err)
			}
			return
		}
		dispatch(c, frame)
	}
}

// writePump drains the send queue onto the socket and keeps the peer alive with pings.
// Each frame is written as its own text message so clients can parse them independently.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue.
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					c.ws.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.ws.WriteMessage(websocket.TextMessage, next); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
