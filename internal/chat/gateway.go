package chat

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dmchat/internal/middleware"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.

	// The realtime channel is push-only; the only inbound traffic we expect
	// is pong frames, so the read limit can stay tiny.
	maxInboundBytes = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// In prod, check origin to prevent CSRF. For dev we allow all.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway accepts websocket connections and turns them into registered
// Connections. Auth happens before the upgrade (middleware); a rejected
// request never reaches the registry, so it never fires presence events.
type Gateway struct {
	reg       *Registry
	presence  *PresenceTracker
	queueSize int
	log       zerolog.Logger
}

func NewGateway(reg *Registry, presence *PresenceTracker, queueSize int, log zerolog.Logger) *Gateway {
	return &Gateway{reg: reg, presence: presence, queueSize: queueSize, log: log}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(userID, g.queueSize)
	g.reg.Register(conn)

	// The snapshot seeds the client's presence view exactly once, before
	// any ongoing events are drained.
	conn.enqueue(PresenceSnapshotEvent(g.presence.Snapshot()))

	go g.writePump(ws, conn)
	go g.readPump(ws, conn)
}

// writePump drains the connection's queue onto the socket and keeps the
// peer alive with pings. One writer per socket, as gorilla requires.
func (g *Gateway) writePump(ws *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case event, ok := <-conn.Events():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Deregistered: tell the peer we're done.
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, event); err != nil {
				g.reg.Deregister(conn.ID)
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				g.reg.Deregister(conn.ID)
				return
			}
		}
	}
}

// readPump exists to notice the peer going away. Message creation happens
// over the REST API, never on this channel, so inbound frames are dropped.
func (g *Gateway) readPump(ws *websocket.Conn, conn *Connection) {
	defer func() {
		g.reg.Deregister(conn.ID)
		ws.Close()
	}()

	ws.SetReadLimit(maxInboundBytes)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				g.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket read error")
			}
			return
		}
	}
}
