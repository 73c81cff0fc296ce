package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type relayMessage struct {
	Origin   string          `json:"origin"`
	RoomID   string          `json:"roomId,omitempty"`
	Envelope json.RawMessage `json:"envelope"`
}

type RedisRelayConfig struct {
	Client  *redis.Client
	Channel string
	Logger  *slog.Logger
}

// RedisRelay mirrors hub publishes across instances over a Redis pub/sub
// channel. Every message carries the publishing instance's origin id so an
// instance ignores its own echoes.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *Hub
	logger  *slog.Logger
}

func NewRedisRelay(hub *Hub, cfg RedisRelayConfig) (*RedisRelay, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "livego:rooms"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hub.logger
	}
	return &RedisRelay{
		client:  cfg.Client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		logger:  logger.With("component", "room_relay"),
	}, nil
}

func (r *RedisRelay) Forward(ctx context.Context, roomID string, envelope []byte) error {
	data, err := json.Marshal(relayMessage{Origin: r.origin, RoomID: roomID, Envelope: envelope})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Run subscribes to the relay channel and delivers foreign envelopes to the
// hub until ctx is cancelled. The hub forwards through the relay only while
// Run is active.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.hub.SetForwarder(r)
	defer r.hub.SetForwarder(nil)
	r.logger.Info("room relay subscribed", "channel", r.channel, "origin", r.origin)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("ignoring malformed relay message", "error", err)
		return
	}
	if msg.Origin == r.origin {
		return
	}
	r.hub.DeliverRelayed(msg.RoomID, msg.Envelope)
}
