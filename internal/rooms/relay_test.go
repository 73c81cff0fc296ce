package rooms

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRelayIgnoresOwnOrigin(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newBufferedClient(hub, "viewer", 4)
	require.NoError(t, hub.Subscribe("room", c))

	relay, err := NewRedisRelay(hub, RedisRelayConfig{Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})})
	require.NoError(t, err)

	envelope, err := json.Marshal(Envelope{Event: EventGift, RoomID: "room", Data: json.RawMessage(`{}`), SentAt: time.Now()})
	require.NoError(t, err)

	own, _ := json.Marshal(relayMessage{Origin: relay.origin, RoomID: "room", Envelope: envelope})
	relay.handle(string(own))
	require.Len(t, c.Messages(), 0)

	foreign, _ := json.Marshal(relayMessage{Origin: "other-instance", RoomID: "room", Envelope: envelope})
	relay.handle(string(foreign))
	require.Len(t, c.Messages(), 1)

	relay.handle("garbage")
	require.Len(t, c.Messages(), 1)
}

func TestRedisRelayIntegration(t *testing.T) {
	addr := os.Getenv("LIVEGO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIVEGO_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := "livego:test:relay:" + time.Now().Format("150405.000000000")
	newInstance := func() (*Hub, *Client) {
		hub, _ := newTestHub(t)
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		relay, err := NewRedisRelay(hub, RedisRelayConfig{Client: client, Channel: channel})
		require.NoError(t, err)
		go func() { _ = relay.Run(ctx) }()
		viewer := newBufferedClient(hub, "viewer", 8)
		require.NoError(t, hub.Subscribe("stream-1", viewer))
		return hub, viewer
	}
	hubA, viewerA := newInstance()
	_, viewerB := newInstance()

	// Wait until both relays are subscribed and forwarding.
	require.Eventually(t, func() bool {
		_ = hubA.Publish(ctx, "stream-1", EventChat, "ping")
		return len(viewerB.Messages()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.NotEmpty(t, viewerA.Messages())
	for len(viewerA.Messages()) > 0 {
		<-viewerA.Messages()
	}
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, viewerA.Messages(), "instance must not re-deliver its own relayed events")
}
