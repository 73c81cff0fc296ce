package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"livego/internal/apperr"
	"livego/internal/guard"
	"livego/internal/observability/metrics"
)

const maxChatLength = 500

// Forwarder mirrors locally published envelopes to other instances. roomID
// is empty for global events.
type Forwarder interface {
	Forward(ctx context.Context, roomID string, envelope []byte) error
}

type HubConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Clock   func() time.Time
}

// Hub owns room membership and event fan-out.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	// publishMu serializes deliveries so members see publishes in order.
	publishMu sync.Mutex

	mu        sync.RWMutex
	clients   map[*Client]struct{}
	rooms     map[string]map[*Client]struct{}
	forwarder Forwarder
}

func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Hub{
		logger:  logger,
		metrics: recorder,
		now:     clock,
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// SetForwarder attaches the cross-instance relay. Passing nil detaches it.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	h.forwarder = f
	h.mu.Unlock()
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.ClientConnected()
}

// Unregister removes c from every room and closes its send buffer. It is
// safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c]
	if known {
		delete(h.clients, c)
		for roomID, members := range h.rooms {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()
	if known {
		c.closeSend()
		h.metrics.ClientDisconnected()
	}
}

// Subscribe adds c to roomID, creating the room on first use.
func (h *Hub) Subscribe(roomID string, c *Client) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return apperr.InvalidInput("roomId is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return apperr.InvalidInput("connection closed")
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	members[c] = struct{}{}
	return nil
}

// Unsubscribe removes c from roomID; the room is dropped with its last member.
func (h *Hub) Unsubscribe(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members := h.rooms[roomID]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// IsMember reports whether c is subscribed to roomID.
func (h *Hub) IsMember(roomID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][c]
	return ok
}

func (h *Hub) members(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers event to every member of roomID. It never blocks on slow
// clients and returns once the envelope has been handed to every member.
func (h *Hub) Publish(ctx context.Context, roomID, event string, payload any) error {
	if strings.TrimSpace(roomID) == "" {
		return apperr.InvalidInput("roomId is required")
	}
	return h.publish(ctx, roomID, event, payload)
}

// PublishGlobal delivers event to every connected client.
func (h *Hub) PublishGlobal(ctx context.Context, event string, payload any) error {
	return h.publish(ctx, "", event, payload)
}

func (h *Hub) publish(ctx context.Context, roomID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	raw, err := json.Marshal(Envelope{Event: event, RoomID: roomID, Data: data, SentAt: h.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event, err)
	}

	h.publishMu.Lock()
	h.deliver(roomID, event, raw)
	h.publishMu.Unlock()

	h.mu.RLock()
	forwarder := h.forwarder
	h.mu.RUnlock()
	if forwarder != nil {
		if err := forwarder.Forward(ctx, roomID, raw); err != nil {
			h.logger.Warn("relay forward failed", "room_id", roomID, "event", event, "error", err)
		}
	}
	return nil
}

// DeliverRelayed hands an envelope received from another instance to local
// members without forwarding it again.
func (h *Hub) DeliverRelayed(roomID string, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		h.logger.Warn("dropping malformed relayed envelope", "error", err)
		return
	}
	h.publishMu.Lock()
	h.deliver(roomID, envelope.Event, raw)
	h.publishMu.Unlock()
}

// deliver must be called with publishMu held.
func (h *Hub) deliver(roomID, event string, raw []byte) {
	h.mu.RLock()
	var targets []*Client
	if roomID == "" {
		targets = make([]*Client, 0, len(h.clients))
		for c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		members := h.rooms[roomID]
		targets = make([]*Client, 0, len(members))
		for c := range members {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	h.metrics.EventPublished(event)
	for _, c := range targets {
		if !c.enqueue(raw) {
			h.metrics.EventDropped(event)
		}
	}
}

// PublishChat validates text and publishes it to roomID as a chat event.
func (h *Hub) PublishChat(ctx context.Context, roomID, userID, text string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, apperr.InvalidInput("message cannot be empty")
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		return ChatMessage{}, apperr.InvalidInput("message exceeds %d characters", maxChatLength)
	}
	if guard.ContainsForbidden(text) {
		h.metrics.SanitizerRejected()
		return ChatMessage{}, apperr.InvalidInput("message contains forbidden characters")
	}
	msg := ChatMessage{Message: text, UserID: userID, Timestamp: h.now().UTC()}
	if err := h.Publish(ctx, roomID, EventChat, msg); err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}
