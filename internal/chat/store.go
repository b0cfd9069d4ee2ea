package chat

import (
	"context"
	"fmt"
	"time"
)

// ConversationKey identifies the thread between two users. It is derived
// from the unordered pair, so both sides always land on the same key.
type ConversationKey string

// ConversationKeyFor canonicalizes the pair by sorting the ids.
func ConversationKeyFor(a, b int) ConversationKey {
	if a > b {
		a, b = b, a
	}
	return ConversationKey(fmt.Sprintf("%d:%d", a, b))
}

type Message struct {
	ID              int64           `json:"id"`
	ConversationKey ConversationKey `json:"conversation_key"`
	SenderID        int             `json:"sender_id"`
	RecipientID     int             `json:"recipient_id"`
	Body            string          `json:"body"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HistoryPage is one page of a conversation, oldest-first within the page.
// NextCursor is the id to pass as beforeID for the older page; zero when
// the history is exhausted.
type HistoryPage struct {
	Messages   []*Message `json:"messages"`
	NextCursor int64      `json:"next_cursor,omitempty"`
}

// Store is the durable message ledger. Once Append returns, the message is
// visible to every subsequent History call; the realtime push is only a
// best-effort side channel on top of it.
type Store interface {
	// Append validates the body, resolves the conversation for the pair
	// and persists the message with a store-assigned id and timestamp.
	// Returns ErrEmptyBody or ErrBodyTooLong on invalid input.
	Append(ctx context.Context, senderID, recipientID int, body string) (*Message, error)

	// History pages newest-first through a conversation: beforeID == 0
	// starts at the latest message, otherwise only messages with a
	// smaller id are returned.
	History(ctx context.Context, key ConversationKey, beforeID int64, limit int) (*HistoryPage, error)
}

// ValidateBody applies the message body rules shared by every Store
// implementation.
func ValidateBody(body string, maxBytes int) error {
	if body == "" {
		return ErrEmptyBody
	}
	if len(body) > maxBytes {
		return ErrBodyTooLong
	}
	return nil
}
