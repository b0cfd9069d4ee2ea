package chat

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const bridgeChannel = "dmchat.events"

// EventPublisher hands an event to the other instances of the app. A zero
// target means broadcast, excluding excludeUserID; otherwise the event goes
// only to the target user's connections.
type EventPublisher interface {
	Publish(targetUserID, excludeUserID int, event []byte)
}

type bridgeEnvelope struct {
	Origin  string          `json:"origin"`
	Target  int             `json:"target"`
	Exclude int             `json:"exclude,omitempty"`
	Event   json.RawMessage `json:"event"`
}

// Bridge relays push events between instances over Redis pub/sub, so a
// message stored on one node still reaches a recipient whose websocket
// lives on another. Each envelope carries the origin instance id; a node
// skips its own publications since it already pushed locally.
type Bridge struct {
	rdb        *redis.Client
	reg        *Registry
	instanceID string
	log        zerolog.Logger
}

func NewBridge(rdb *redis.Client, reg *Registry, log zerolog.Logger) *Bridge {
	return &Bridge{
		rdb:        rdb,
		reg:        reg,
		instanceID: uuid.NewString(),
		log:        log,
	}
}

func (b *Bridge) Publish(targetUserID, excludeUserID int, event []byte) {
	payload, _ := json.Marshal(bridgeEnvelope{
		Origin:  b.instanceID,
		Target:  targetUserID,
		Exclude: excludeUserID,
		Event:   event,
	})
	if err := b.rdb.Publish(context.Background(), bridgeChannel, payload).Err(); err != nil {
		b.log.Warn().Err(err).Msg("bridge publish failed")
	}
}

// Run subscribes and replays remote events into the local registry until
// the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.rdb.Subscribe(ctx, bridgeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn().Err(err).Msg("bridge received malformed envelope")
				continue
			}
			if env.Origin == b.instanceID {
				continue
			}
			if env.Target != 0 {
				b.reg.PushToUser(env.Target, env.Event)
			} else {
				b.reg.Broadcast(env.Event, env.Exclude)
			}
		}
	}
}
