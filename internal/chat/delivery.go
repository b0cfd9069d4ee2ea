package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// UserDirectory resolves whether a user id exists. Backed by the user
// repository in production.
type UserDirectory interface {
	Exists(ctx context.Context, id int) (bool, error)
}

// Delivery orchestrates the send-message path: validate, persist, then push
// to whoever is connected. Persistence strictly precedes the push, so a lost
// push never loses the message — the recipient picks it up from history.
type Delivery struct {
	store Store
	reg   *Registry
	users UserDirectory
	pub   EventPublisher // optional cross-instance bridge
	log   zerolog.Logger
}

func NewDelivery(store Store, reg *Registry, users UserDirectory, pub EventPublisher, log zerolog.Logger) *Delivery {
	return &Delivery{store: store, reg: reg, users: users, pub: pub, log: log}
}

// SendMessage persists the message and pushes it to the recipient's live
// connections, plus the sender's other open sessions. The append decides
// the outcome: push problems are demoted to warnings, a store failure is
// returned to the caller as retryable.
func (d *Delivery) SendMessage(ctx context.Context, senderID, recipientID int, body string) (*Message, error) {
	for _, id := range []int{senderID, recipientID} {
		ok, err := d.users.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve user %d: %w", id, err)
		}
		if !ok {
			return nil, ErrUserNotFound
		}
	}

	msg, err := d.store.Append(ctx, senderID, recipientID, body)
	if err != nil {
		return nil, err
	}

	event := MessageNewEvent(msg)
	delivered := d.reg.PushToUser(recipientID, event)
	// Echo to the sender's other tabs so they stay in sync. Same
	// best-effort contract as the recipient push.
	if senderID != recipientID {
		delivered += d.reg.PushToUser(senderID, event)
	}
	d.log.Debug().
		Int64("message_id", msg.ID).
		Int("sender_id", senderID).
		Int("recipient_id", recipientID).
		Int("delivered", delivered).
		Msg("message stored and pushed")

	if d.pub != nil {
		d.pub.Publish(recipientID, 0, event)
		if senderID != recipientID {
			d.pub.Publish(senderID, 0, event)
		}
	}

	return msg, nil
}
