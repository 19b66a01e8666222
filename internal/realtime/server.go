package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"go-social/internal/event"
	"go-social/internal/message"
	myMiddleware "go-social/internal/middleware"
	"go-social/internal/user"

	"github.com/gorilla/websocket"
)

const (
	defaultHandlerTimeout = 10 * time.Second
	defaultMaxMessageSize = 8192
	defaultMaxInFlight    = 8
)

type Options struct {
	HandlerTimeout time.Duration
	AllowedOrigins []string
	MaxMessageSize int64
	// MaxInFlight caps the frames of one connection handled concurrently.
	MaxInFlight int64
}

// Server accepts websocket connections and routes their frames to the
// presence, event, chat and delivery components.
type Server struct {
	hub       *Hub
	presence  *Presence
	events    *Events
	eventChat *EventChat
	delivery  *Delivery

	upgrader websocket.Upgrader
	origins  map[string]struct{}
	anyOrig  bool
	opts     Options
	logger   *slog.Logger
}

func NewServer(hub *Hub, stores Stores, counter ConnCounter, opts Options, logger *slog.Logger) *Server {
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}

	s := &Server{
		hub:       hub,
		presence:  NewPresence(hub, stores.Users, counter, logger),
		events:    NewEvents(hub, NewRoster(), stores.Events, stores.Users, logger),
		eventChat: NewEventChat(hub, stores.Events, stores.Users, logger),
		delivery:  NewDelivery(hub, stores.Messages, logger),
		opts:      opts,
		logger:    logger,
	}

	s.origins = make(map[string]struct{})
	for _, o := range opts.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			s.anyOrig = true
			continue
		}
		norm, ok := normalizeOrigin(o)
		if !ok {
			if o != "" {
				logger.Warn("ignoring invalid allowed origin", "origin", o)
			}
			continue
		}
		s.origins[norm] = struct{}{}
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	hub.OnDisconnect(s.events.Disconnect)
	hub.OnDisconnect(s.presence.Disconnect)
	return s
}

// Roster exposes the live viewer roster.
func (s *Server) Roster() *Roster { return s.events.roster }

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (s *Server) checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		// Non-browser clients send no Origin.
		return true
	}
	if s.anyOrig {
		return true
	}
	norm, ok := normalizeOrigin(header)
	if ok {
		if _, allowed := s.origins[norm]; allowed {
			return true
		}
	}
	s.logger.Warn("blocked websocket from disallowed origin", "origin", header)
	return false
}

// ServeWs upgrades the request and starts the connection's pumps. The
// authenticated user id, if any, becomes the identity the connection may act as.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	authUserID, _ := myMiddleware.UserID(r.Context())

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(ws, authUserID, s.opts.MaxInFlight)
	s.hub.Register(c)

	go c.writePump()
	go c.readPump(s.hub, s.opts.MaxMessageSize, s.dispatch)
}

// dispatch runs every frame on its own goroutine. Once MaxInFlight frames of c
// are being handled, it blocks the read loop until one finishes. Handlers
// outlive the connection that sent them.
func (s *Server) dispatch(c *Conn, raw []byte) {
	if err := c.inflight.Acquire(context.Background(), 1); err != nil {
		return
	}
	go func() {
		defer c.inflight.Release(1)
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandlerTimeout)
		defer cancel()
		s.handle(ctx, c, raw)
	}()
}

func (s *Server) handle(ctx context.Context, c *Conn, raw []byte) {
	var f Frame
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "event", f.Event, "connID", c.id, "panic", r, "stack", string(debug.Stack()))
			s.ack(c, f.Event, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := decodeFrame(raw, &f); err != nil {
		s.ack(c, "", err)
		return
	}
	if err := s.route(ctx, c, f); err != nil {
		s.ack(c, f.Event, err)
	}
}

func (s *Server) route(ctx context.Context, c *Conn, f Frame) error {
	switch f.Event {
	case EventJoin:
		userID, err := decodeID(f.Data, "userId")
		if err != nil {
			return err
		}
		if err := authorize(c, userID); err != nil {
			return err
		}
		return s.presence.Join(ctx, c, userID)

	case EventLiveEvent, EventJoinEvent, EventEndEvent, EventLeaveEvent:
		var p eventPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return err
		}
		if err := authorize(c, p.UserID); err != nil {
			return err
		}
		switch f.Event {
		case EventLiveEvent:
			return s.events.StartLive(ctx, c, p.EventID, p.UserID)
		case EventJoinEvent:
			return s.events.JoinEvent(ctx, c, p.EventID, p.UserID)
		case EventEndEvent:
			return s.events.EndEvent(ctx, p.EventID, p.UserID)
		default:
			s.events.LeaveEvent(ctx, c, p.EventID, p.UserID)
			return nil
		}

	case EventSendEventMessage:
		var p eventMessagePayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return err
		}
		if err := authorize(c, p.UserID); err != nil {
			return err
		}
		_, err := s.eventChat.Send(ctx, ChatMessage{
			EventID:     p.EventID,
			UserID:      p.UserID,
			Name:        p.Name,
			Avatar:      p.Avatar,
			Text:        p.Text,
			IsAdminChat: p.IsAdminChat,
			RepliedTo:   p.RepliedTo,
		})
		return err

	case EventTyping:
		var p typingPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return err
		}
		if err := authorize(c, p.UserID); err != nil {
			return err
		}
		s.hub.Emit(ctx, p.RecipientID, EventUserTyping, typingStatus{UserID: p.UserID, Typing: p.Typing})
		return nil

	case EventSendMessage:
		var p sendMessagePayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return err
		}
		if err := authorize(c, p.SenderID); err != nil {
			return err
		}
		var at time.Time
		if p.Time != nil {
			at = *p.Time
		}
		_, err := s.delivery.Send(ctx, p.SenderID, p.RecipientID, p.Content, at)
		return err

	case EventMessageReceived:
		id, err := decodeID(f.Data, "messageId")
		if err != nil {
			return err
		}
		return s.delivery.MarkReceived(ctx, id)

	case EventMessageSeen:
		id, err := decodeID(f.Data, "messageId")
		if err != nil {
			return err
		}
		return s.delivery.MarkSeen(ctx, id)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// authorize rejects payloads that claim an identity other than the one the
// connection authenticated as.
func authorize(c *Conn, userID string) error {
	if c.authUserID != "" && c.authUserID != userID {
		return ErrForbidden
	}
	return nil
}

func decodeFrame(raw []byte, f *Frame) error {
	if err := decode(raw, f); err != nil {
		return err
	}
	if f.Event == "" {
		return invalid("event is required")
	}
	return nil
}

func (s *Server) ack(c *Conn, evt string, err error) {
	code, msg := classify(err)
	if code == "internal" {
		s.logger.Error("handler failed", "event", evt, "connID", c.id, "error", err)
	} else {
		s.logger.Debug("frame rejected", "event", evt, "connID", c.id, "code", code, "error", err)
	}
	s.hub.SendTo(c, EventError, errorAck{Event: evt, Code: code, Message: msg})
}

func classify(err error) (code, msg string) {
	switch {
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrUnknownEvent):
		return "bad_request", err.Error()
	case errors.Is(err, ErrForbidden):
		return "forbidden", err.Error()
	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, event.ErrNotFound),
		errors.Is(err, message.ErrNotFound):
		return "not_found", err.Error()
	case errors.Is(err, event.ErrEnded):
		return "conflict", err.Error()
	default:
		return "internal", "internal error"
	}
}
