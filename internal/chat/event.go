package chat

import (
	"encoding/json"
	"time"
)

// Push event kinds on the realtime channel. The channel is server→client
// only; clients never write events back over it.
const (
	EventPresenceOnline   = "presence.online"
	EventPresenceOffline  = "presence.offline"
	EventPresenceSnapshot = "presence.snapshot"
	EventMessageNew       = "message.new"
)

type presenceEvent struct {
	Kind   string `json:"kind"`
	UserID int    `json:"userId"`
}

type snapshotEvent struct {
	Kind    string `json:"kind"`
	UserIDs []int  `json:"userIds"`
}

type messageEvent struct {
	Kind            string          `json:"kind"`
	ID              int64           `json:"id"`
	ConversationKey ConversationKey `json:"conversationKey"`
	SenderID        int             `json:"senderId"`
	Body            string          `json:"body"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func PresenceOnlineEvent(userID int) []byte {
	b, _ := json.Marshal(presenceEvent{Kind: EventPresenceOnline, UserID: userID})
	return b
}

func PresenceOfflineEvent(userID int) []byte {
	b, _ := json.Marshal(presenceEvent{Kind: EventPresenceOffline, UserID: userID})
	return b
}

func PresenceSnapshotEvent(userIDs []int) []byte {
	if userIDs == nil {
		userIDs = []int{}
	}
	b, _ := json.Marshal(snapshotEvent{Kind: EventPresenceSnapshot, UserIDs: userIDs})
	return b
}

func MessageNewEvent(m *Message) []byte {
	b, _ := json.Marshal(messageEvent{
		Kind:            EventMessageNew,
		ID:              m.ID,
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		Body:            m.Body,
		CreatedAt:       m.CreatedAt,
	})
	return b
}
