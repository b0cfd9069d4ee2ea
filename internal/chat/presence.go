package chat

import "github.com/rs/zerolog"

// PresenceTracker turns registry transitions into presence events on the
// wire. Presence is fully derived from the live connection set: a restart
// clears both, so nothing is persisted and nothing can go stale.
type PresenceTracker struct {
	reg *Registry
	pub EventPublisher // optional cross-instance bridge
	log zerolog.Logger
}

func NewPresenceTracker(reg *Registry, pub EventPublisher, log zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{reg: reg, pub: pub, log: log}
}

// UserOnline announces a user to everyone else currently connected.
// Broadcasting to the whole online set mirrors the product's behavior;
// it won't scale past small user bases, but narrowing the audience to
// conversation peers would change what clients see.
func (t *PresenceTracker) UserOnline(userID int) {
	event := PresenceOnlineEvent(userID)
	n := t.reg.Broadcast(event, userID)
	t.log.Debug().Int("user_id", userID).Int("notified", n).Msg("user online")
	if t.pub != nil {
		t.pub.Publish(0, userID, event)
	}
}

func (t *PresenceTracker) UserOffline(userID int) {
	event := PresenceOfflineEvent(userID)
	n := t.reg.Broadcast(event, userID)
	t.log.Debug().Int("user_id", userID).Int("notified", n).Msg("user offline")
	if t.pub != nil {
		t.pub.Publish(0, userID, event)
	}
}

// Snapshot returns the current online set, used to seed a newly connected
// client's presence view.
func (t *PresenceTracker) Snapshot() []int {
	return t.reg.OnlineUsers()
}
