package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is one live realtime session for a user. It owns nothing but a
// bounded outbound queue; the gateway's write pump drains the queue onto the
// socket, so no registry lock is ever held across network I/O.
type Connection struct {
	ID        string
	UserID    int
	CreatedAt time.Time

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewConnection(userID int, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Connection{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now(),
		send:      make(chan []byte, queueSize),
	}
}

// Events is the outbound queue, drained by the connection's write pump. The
// channel is closed when the connection is deregistered.
func (c *Connection) Events() <-chan []byte {
	return c.send
}

// enqueue offers an event without blocking. A full queue means the client
// has stalled; the caller treats that as the connection going stale. After
// close, enqueue reports false instead of panicking on the closed channel —
// a push can race a disconnect.
func (c *Connection) enqueue(event []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
