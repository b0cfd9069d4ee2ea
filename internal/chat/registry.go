package chat

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// PresenceListener receives user online/offline transitions from the
// registry. Transitions fire only when a user's connection count crosses
// zero, never on the 1→2 or 2→1 changes.
type PresenceListener interface {
	UserOnline(userID int)
	UserOffline(userID int)
}

// Registry maps each user to their live connections. It is the single owner
// of connection membership; everything else (presence, delivery, gateway)
// goes through it. A coarse RWMutex guards the maps — push volume in a DM
// app doesn't justify per-user sharding. No lock is held while touching a
// socket: push only enqueues into each connection's bounded queue.
type Registry struct {
	mu        sync.RWMutex
	byUser    map[int]map[string]*Connection
	byID      map[string]*Connection
	listeners []PresenceListener

	log zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		byUser: make(map[int]map[string]*Connection),
		byID:   make(map[string]*Connection),
		log:    log,
	}
}

// Subscribe registers a presence listener. Call before the registry starts
// taking connections; listeners are not guarded after that.
func (r *Registry) Subscribe(l PresenceListener) {
	r.listeners = append(r.listeners, l)
}

// Register adds a live connection for its user. A user may hold any number
// of simultaneous connections (tabs, devices).
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	set, ok := r.byUser[conn.UserID]
	if !ok {
		set = make(map[string]*Connection)
		r.byUser[conn.UserID] = set
	}
	set[conn.ID] = conn
	r.byID[conn.ID] = conn
	wentOnline := len(set) == 1
	r.mu.Unlock()

	r.log.Debug().Int("user_id", conn.UserID).Str("conn_id", conn.ID).Msg("connection registered")

	// Listeners run outside the lock: they fan events back through the
	// registry and would deadlock otherwise.
	if wentOnline {
		for _, l := range r.listeners {
			l.UserOnline(conn.UserID)
		}
	}
}

// Deregister removes a connection and closes its queue. Removing an unknown
// id is a no-op.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	conn, ok := r.byID[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, connID)
	set := r.byUser[conn.UserID]
	delete(set, connID)
	wentOffline := len(set) == 0
	if wentOffline {
		delete(r.byUser, conn.UserID)
	}
	r.mu.Unlock()

	conn.close()
	r.log.Debug().Int("user_id", conn.UserID).Str("conn_id", connID).Msg("connection deregistered")

	if wentOffline {
		for _, l := range r.listeners {
			l.UserOffline(conn.UserID)
		}
	}
}

// ConnectionsFor returns the live connections of a user, possibly none.
func (r *Registry) ConnectionsFor(userID int) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.byUser[userID])
}

func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the ids of users with at least one live connection.
func (r *Registry) OnlineUsers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser)
}

// PushToUser enqueues an event on every live connection of a user and
// returns how many connections accepted it. Zero simply means the user is
// offline. A connection whose queue is full is treated as stale and
// deregistered; the remaining connections still receive the event.
func (r *Registry) PushToUser(userID int, event []byte) int {
	r.mu.RLock()
	conns := lo.Values(r.byUser[userID])
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if conn.enqueue(event) {
			delivered++
			continue
		}
		r.log.Warn().Int("user_id", userID).Str("conn_id", conn.ID).Msg("send queue full, dropping stale connection")
		r.Deregister(conn.ID)
	}
	return delivered
}

// Broadcast enqueues an event on every live connection except those owned
// by exceptUserID, and returns the number of connections reached.
func (r *Registry) Broadcast(event []byte, exceptUserID int) int {
	r.mu.RLock()
	var conns []*Connection
	for userID, set := range r.byUser {
		if userID == exceptUserID {
			continue
		}
		conns = append(conns, lo.Values(set)...)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if conn.enqueue(event) {
			delivered++
			continue
		}
		r.log.Warn().Int("user_id", conn.UserID).Str("conn_id", conn.ID).Msg("send queue full, dropping stale connection")
		r.Deregister(conn.ID)
	}
	return delivered
}

// CloseAll drops every connection, for shutdown. No presence events fire;
// the process is going away with them.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := lo.Values(r.byID)
	r.byUser = make(map[int]map[string]*Connection)
	r.byID = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}
