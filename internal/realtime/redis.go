package realtime

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"smlgpt/internal/redis"
)

// Channel carries events between worker processes and API instances.
const Channel = "smlgpt:realtime"

type envelope struct {
	SessionID string          `json:"sessionId"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}

// RedisPublisher fans events out through Redis pub/sub so any instance
// holding the session's sockets can deliver them.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, channel: Channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, sessionID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode event payload")
	}
	msg, err := json.Marshal(envelope{SessionID: sessionID, Event: event, Payload: data})
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := p.client.Publish(ctx, p.channel, msg); err != nil {
		return errors.Wrapf(err, "publish %s", event)
	}
	return nil
}

// Bridge forwards events published on Channel to the local hub.
type Bridge struct {
	client *redis.Client
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewBridge(client *redis.Client, hub *Hub) *Bridge {
	return &Bridge{client: client, hub: hub, log: zap.S().Named("realtime")}
}

// Run blocks until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.client.Subscribe(ctx, Channel)
	if err != nil {
		return errors.Wrap(err, "subscribe realtime channel")
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warnw("discarding malformed realtime message", "error", err)
				continue
			}
			if err := b.hub.Deliver(env.SessionID, env.Event, env.Payload); err != nil {
				b.log.Warnw("deliver realtime event failed", "event", env.Event, "error", err)
			}
		}
	}
}
