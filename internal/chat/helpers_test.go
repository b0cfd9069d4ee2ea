package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// wireEvent is the union of every push event shape, for decoding in tests.
type wireEvent struct {
	Kind            string `json:"kind"`
	UserID          int    `json:"userId"`
	UserIDs         []int  `json:"userIds"`
	ID              int64  `json:"id"`
	ConversationKey string `json:"conversationKey"`
	SenderID        int    `json:"senderId"`
	Body            string `json:"body"`
}

// nextEvent pops the next queued event off a connection without blocking.
func nextEvent(t *testing.T, conn *Connection) wireEvent {
	t.Helper()
	select {
	case raw, ok := <-conn.Events():
		require.True(t, ok, "connection queue closed")
		var evt wireEvent
		require.NoError(t, json.Unmarshal(raw, &evt))
		return evt
	default:
		t.Fatal("no event queued")
		return wireEvent{}
	}
}

func requireNoEvent(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case raw := <-conn.Events():
		t.Fatalf("unexpected event queued: %s", raw)
	default:
	}
}

type recordingListener struct {
	mu      sync.Mutex
	online  []int
	offline []int
}

func (l *recordingListener) UserOnline(userID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = append(l.online, userID)
}

func (l *recordingListener) UserOffline(userID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = append(l.offline, userID)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.online), len(l.offline)
}

// memStore is an in-memory Store with the same validation and cursor
// semantics as the Postgres one.
type memStore struct {
	mu       sync.Mutex
	maxBytes int
	nextID   int64
	msgs     map[ConversationKey][]*Message

	appendErr error // forced failure, when set
}

func newMemStore(maxBytes int) *memStore {
	return &memStore{maxBytes: maxBytes, msgs: make(map[ConversationKey][]*Message)}
}

func (s *memStore) Append(ctx context.Context, senderID, recipientID int, body string) (*Message, error) {
	if err := ValidateBody(body, s.maxBytes); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.nextID++
	msg := &Message{
		ID:              s.nextID,
		ConversationKey: ConversationKeyFor(senderID, recipientID),
		SenderID:        senderID,
		RecipientID:     recipientID,
		Body:            body,
		CreatedAt:       time.Now(),
	}
	s.msgs[msg.ConversationKey] = append(s.msgs[msg.ConversationKey], msg)
	return msg, nil
}

func (s *memStore) History(ctx context.Context, key ConversationKey, beforeID int64, limit int) (*HistoryPage, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.msgs[key]
	end := len(all)
	if beforeID > 0 {
		for end > 0 && all[end-1].ID >= beforeID {
			end--
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := &HistoryPage{Messages: append([]*Message(nil), all[start:end]...)}
	// Matches the SQL store: a full page reports a cursor even when the
	// next page turns out empty.
	if end-start == limit {
		page.NextCursor = all[start].ID
	}
	return page, nil
}

// stubDirectory knows a fixed set of user ids.
type stubDirectory struct {
	users map[int]bool
	err   error
}

func (d *stubDirectory) Exists(ctx context.Context, id int) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.users[id], nil
}
