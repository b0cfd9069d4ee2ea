package chat

import (
	"context"
	"database/sql"
	"fmt"
)

const defaultHistoryLimit = 50

// PostgresStore is the production Store, backed by the messages and
// conversations tables.
type PostgresStore struct {
	db       *sql.DB
	maxBytes int
}

func NewPostgresStore(db *sql.DB, maxBytes int) *PostgresStore {
	return &PostgresStore{db: db, maxBytes: maxBytes}
}

func (s *PostgresStore) Append(ctx context.Context, senderID, recipientID int, body string) (*Message, error) {
	if err := ValidateBody(body, s.maxBytes); err != nil {
		return nil, err
	}

	key := ConversationKeyFor(senderID, recipientID)
	low, high := senderID, recipientID
	if low > high {
		low, high = high, low
	}

	// First message of a pair creates the conversation row; after that the
	// insert is a no-op. Single round trip per statement, no
	// read-modify-write anywhere: id and created_at are assigned by the
	// INSERT itself, so concurrent appends still order cleanly.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (key, user_low, user_high) VALUES ($1, $2, $3)
         ON CONFLICT (key) DO NOTHING`,
		string(key), low, high)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}

	msg := &Message{
		ConversationKey: key,
		SenderID:        senderID,
		RecipientID:     recipientID,
		Body:            body,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_key, sender_id, recipient_id, body)
         VALUES ($1, $2, $3, $4)
         RETURNING id, created_at`,
		string(key), senderID, recipientID, body).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	return msg, nil
}

func (s *PostgresStore) History(ctx context.Context, key ConversationKey, beforeID int64, limit int) (*HistoryPage, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, sender_id, recipient_id, body, created_at
         FROM messages
         WHERE conversation_key = $1 AND ($2 = 0 OR id < $2)
         ORDER BY id DESC
         LIMIT $3`,
		string(key), beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var newestFirst []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationKey, &msg.SenderID, &msg.RecipientID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	page := &HistoryPage{Messages: make([]*Message, 0, len(newestFirst))}
	for i := len(newestFirst) - 1; i >= 0; i-- {
		page.Messages = append(page.Messages, newestFirst[i])
	}
	// A full page may have older messages behind it; the oldest id in the
	// page is the cursor for the next one.
	if len(newestFirst) == limit {
		page.NextCursor = newestFirst[len(newestFirst)-1].ID
	}
	return page, nil
}
