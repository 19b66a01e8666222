package realtime

import (
	"context"
	"log/slog"
	"time"

	"go-social/internal/message"

	"github.com/google/uuid"
)

// Delivery drives direct messages through sent -> received -> seen and keeps
// both parties' unread badges current.
type Delivery struct {
	hub      *Hub
	messages MessageStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewDelivery(hub *Hub, messages MessageStore, logger *slog.Logger) *Delivery {
	return &Delivery{hub: hub, messages: messages, logger: logger, now: time.Now}
}

// Send stores a new message and fans it out. Both rooms get the message with
// the conversation's unseen count, the sender gets the "sent" tick and the
// receiver gets their total unseen count.
func (d *Delivery) Send(ctx context.Context, senderID, receiverID, content string, at time.Time) (*message.Message, error) {
	if at.IsZero() {
		at = d.now()
	}

	msg := &message.Message{
		ID:       uuid.NewString(),
		Sender:   senderID,
		Receiver: receiverID,
		Content:  content,
		Time:     at.UTC(),
		Status:   message.StatusSent,
	}
	if err := d.messages.Create(ctx, msg); err != nil {
		d.logger.Error("failed to store message", "senderID", senderID, "receiverID", receiverID, "error", err)
		return nil, err
	}

	unseen, err := d.messages.CountUnseen(ctx, senderID, receiverID)
	if err != nil {
		d.logger.Error("failed to count unseen messages", "senderID", senderID, "receiverID", receiverID, "error", err)
		return msg, err
	}

	d.hub.Emit(ctx, receiverID, EventReceiveMessage, receivedMessage{UserID: senderID, Message: msg, UnseenCount: unseen})
	d.hub.Emit(ctx, senderID, EventReceiveMessage, receivedMessage{UserID: receiverID, Message: msg, UnseenCount: unseen})
	d.hub.Emit(ctx, senderID, EventMessageStatus, messageStatus{MessageID: msg.ID, Status: message.StatusSent})

	total, err := d.messages.CountUnseenFor(ctx, receiverID)
	if err != nil {
		d.logger.Error("failed to count total unseen messages", "receiverID", receiverID, "error", err)
		return msg, err
	}
	d.hub.Emit(ctx, receiverID, EventTotalUnseenCount, totalUnseen{TotalUnseenCount: total})
	return msg, nil
}

func (d *Delivery) MarkReceived(ctx context.Context, messageID string) error {
	return d.advance(ctx, messageID, message.StatusReceived)
}

func (d *Delivery) MarkSeen(ctx context.Context, messageID string) error {
	return d.advance(ctx, messageID, message.StatusSeen)
}

// advance moves the message forward and ticks the sender. Backward or repeated
// transitions change nothing and announce nothing.
func (d *Delivery) advance(ctx context.Context, messageID string, status message.Status) error {
	senderID, changed, err := d.messages.SetStatus(ctx, messageID, status)
	if err != nil {
		d.logger.Error("failed to update message status", "messageID", messageID, "status", status, "error", err)
		return err
	}
	if !changed {
		d.logger.Debug("ignoring non-forward status change", "messageID", messageID, "status", status)
		return nil
	}

	d.hub.Emit(ctx, senderID, EventMessageStatus, messageStatus{MessageID: messageID, Status: status})
	return nil
}
