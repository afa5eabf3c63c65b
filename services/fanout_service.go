package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/kevinochieng254/giglink/websocket"
	"github.com/redis/go-redis/v9"
)

const fanoutChannel = "chat:events"

const (
	scopeRoom = "room"
	scopeUser = "user"
	scopeAll  = "all"
)

// fanoutEnvelope is the cross-process event frame. Room membership and
// socket handles are per-process state, so every emit goes through pub/sub
// and each process replays it into its local hub — including the publisher,
// which keeps local delivery on the same code path.
type fanoutEnvelope struct {
	Scope  string          `json:"scope"`
	Target string          `json:"target,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

type publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type redisPublisher struct {
	rdb *redis.Client
}

func (p *redisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.rdb.Publish(ctx, channel, payload).Err()
}

// localSink is the per-process delivery surface; *websocket.Hub satisfies it.
type localSink interface {
	BroadcastRoom(room string, payload []byte, excludeUserID *uuid.UUID) int
	SendToUser(userID uuid.UUID, payload []byte) bool
	BroadcastAll(payload []byte)
}

// Bridge makes emitToRoom/emitToUser correct under horizontal scaling.
type Bridge struct {
	pub  publisher
	sink localSink
}

func NewBridge(rdb *redis.Client, sink localSink) *Bridge {
	return &Bridge{pub: &redisPublisher{rdb: rdb}, sink: sink}
}

func (b *Bridge) EmitToRoom(ctx context.Context, room, event string, data interface{}) error {
	return b.publish(ctx, fanoutEnvelope{Scope: scopeRoom, Target: room, Event: event}, data)
}

func (b *Bridge) EmitToUser(ctx context.Context, userID uuid.UUID, event string, data interface{}) error {
	return b.publish(ctx, fanoutEnvelope{Scope: scopeUser, Target: userID.String(), Event: event}, data)
}

// EmitAll reaches every connected client on every process.
func (b *Bridge) EmitAll(ctx context.Context, event string, data interface{}) error {
	return b.publish(ctx, fanoutEnvelope{Scope: scopeAll, Event: event}, data)
}

func (b *Bridge) publish(ctx context.Context, env fanoutEnvelope, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	env.Data = raw
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.pub.Publish(ctx, fanoutChannel, payload)
}

// Dispatch replays one published envelope into the local hub.
func (b *Bridge) Dispatch(payload []byte) {
	var env fanoutEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("Fanout: dropping malformed envelope: %v", err)
		return
	}

	frame, err := json.Marshal(websocket.Envelope{Event: env.Event, Data: env.Data})
	if err != nil {
		log.Printf("Fanout: failed to frame %s event: %v", env.Event, err)
		return
	}

	switch env.Scope {
	case scopeRoom:
		b.sink.BroadcastRoom(env.Target, frame, nil)
	case scopeUser:
		userID, err := uuid.Parse(env.Target)
		if err != nil {
			log.Printf("Fanout: invalid user target %q", env.Target)
			return
		}
		b.sink.SendToUser(userID, frame)
	case scopeAll:
		b.sink.BroadcastAll(frame)
	default:
		log.Printf("Fanout: unknown scope %q", env.Scope)
	}
}

// Run subscribes to the fanout channel and dispatches until ctx is done.
func (b *Bridge) Run(ctx context.Context, rdb *redis.Client) {
	pubsub := rdb.Subscribe(ctx, fanoutChannel)
	defer pubsub.Close()

	log.Println("✅ Fanout bridge subscribed to", fanoutChannel)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.Dispatch([]byte(msg.Payload))
		}
	}
}
