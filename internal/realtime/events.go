package realtime

import (
	"context"
	"log/slog"

	"go-social/internal/event"
)

// Events runs the live-event lifecycle: scheduled -> live -> ended, with the
// viewer roster and the event room kept in step.
type Events struct {
	hub    *Hub
	roster *Roster
	events EventStore
	users  UserStore
	logger *slog.Logger
}

func NewEvents(hub *Hub, roster *Roster, events EventStore, users UserStore, logger *slog.Logger) *Events {
	if roster == nil {
		roster = NewRoster()
	}
	return &Events{hub: hub, roster: roster, events: events, users: users, logger: logger}
}

// StartLive marks the event live and puts its owner in the room and roster.
// Starting an already live event again is harmless; an ended event cannot go live.
func (e *Events) StartLive(ctx context.Context, c *Conn, eventID, userID string) error {
	if err := e.events.SetStatus(ctx, eventID, event.StatusLive); err != nil {
		e.logger.Error("failed to start live event", "eventID", eventID, "userID", userID, "error", err)
		return err
	}

	count, ok := e.admit(ctx, c, eventID, userID)
	if !ok {
		return nil
	}

	e.logger.Info("live event started", "eventID", eventID, "userID", userID)
	e.hub.Emit(ctx, eventID, EventWatchingUsers, count)
	return nil
}

// JoinEvent adds a viewer and announces who joined and the new count. The
// count is announced even if the profile lookup fails because the roster
// has already changed.
func (e *Events) JoinEvent(ctx context.Context, c *Conn, eventID, userID string) error {
	count, ok := e.admit(ctx, c, eventID, userID)
	if !ok {
		return nil
	}

	profile, err := e.users.Profile(ctx, userID)
	if err != nil {
		e.logger.Error("failed to load viewer profile", "eventID", eventID, "userID", userID, "error", err)
		e.hub.Emit(ctx, eventID, EventWatchingUsers, count)
		return err
	}

	e.hub.Emit(ctx, eventID, EventNewUser, profile)
	e.hub.Emit(ctx, eventID, EventWatchingUsers, count)
	e.logger.Info("viewer joined event", "eventID", eventID, "userID", userID, "viewers", count)
	return nil
}

// LeaveEvent removes the viewer and announces the count, if the event has a roster.
func (e *Events) LeaveEvent(ctx context.Context, c *Conn, eventID, userID string) {
	e.hub.UnbindEvent(c, eventID)
	e.dropViewer(ctx, eventID, userID)
}

// EndEvent marks the event ended, tells the room and tears the room and roster down.
func (e *Events) EndEvent(ctx context.Context, eventID, userID string) error {
	if err := e.events.SetStatus(ctx, eventID, event.StatusEnded); err != nil {
		e.logger.Error("failed to end event", "eventID", eventID, "userID", userID, "error", err)
		return err
	}

	e.hub.EmitAndClose(ctx, eventID, EventEventEnded, eventEnded{EventID: eventID})
	e.roster.Clear(eventID)
	e.logger.Info("live event ended", "eventID", eventID, "userID", userID)
	return nil
}

// Disconnect is the hub cleanup callback. The viewer stays in the roster while
// another of their connections is still in the room.
func (e *Events) Disconnect(ctx context.Context, c *Conn) {
	eventID, viewerID := c.EventID(), c.ViewerID()
	if eventID == "" || viewerID == "" {
		return
	}
	if e.hub.HasViewer(eventID, viewerID, c) {
		return
	}
	e.dropViewer(ctx, eventID, viewerID)
}

// admit watches eventID through c and adds userID to its roster, returning the
// new count. It reports false, leaving no viewer behind, if c disconnected
// before or during the admission.
func (e *Events) admit(ctx context.Context, c *Conn, eventID, userID string) (int, bool) {
	if !e.watch(ctx, c, eventID, userID) {
		e.logger.Debug("event join on closed connection", "connID", c.id, "eventID", eventID, "userID", userID)
		return 0, false
	}
	count, _ := e.roster.Add(eventID, userID)

	if !e.hub.Registered(c) {
		// Disconnect may have run before the viewer was added.
		if !e.hub.HasViewer(eventID, userID, c) {
			e.dropViewer(ctx, eventID, userID)
		}
		return 0, false
	}
	return count, true
}

// watch binds c to eventID. If c was watching another event, or the same
// event as someone else, that viewer leaves first as if leaveEvent had been sent.
// It returns false when c is no longer connected.
func (e *Events) watch(ctx context.Context, c *Conn, eventID, userID string) bool {
	prevEvent, prevViewer, ok := e.hub.BindEvent(c, eventID, userID)
	if !ok {
		return false
	}
	if prevEvent == "" || prevViewer == "" {
		return true
	}
	if prevEvent == eventID && prevViewer == userID {
		return true
	}
	if !e.hub.HasViewer(prevEvent, prevViewer, c) {
		e.dropViewer(ctx, prevEvent, prevViewer)
	}
	return true
}

func (e *Events) dropViewer(ctx context.Context, eventID, userID string) {
	count, tracked := e.roster.Remove(eventID, userID)
	if !tracked {
		return
	}
	e.hub.Emit(ctx, eventID, EventWatchingUsers, count)
	e.logger.Info("viewer left event", "eventID", eventID, "userID", userID, "viewers", count)
}
