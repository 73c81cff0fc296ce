package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"livego/internal/apperr"
)

// ClientConfig tunes websocket keepalive and per-connection chat limits.
type ClientConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	ChatRate       rate.Limit
	ChatBurst      int
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.ChatRate <= 0 {
		cfg.ChatRate = 2
	}
	if cfg.ChatBurst <= 0 {
		cfg.ChatBurst = 5
	}
	return cfg
}

// Client is one websocket connection. A Client without a connection only
// buffers envelopes, which is how the hub is exercised in tests.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	accountID string
	cfg       ClientConfig
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, accountID string, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		hub:       hub,
		conn:      conn,
		accountID: accountID,
		cfg:       cfg,
		limiter:   rate.NewLimiter(cfg.ChatRate, cfg.ChatBurst),
		logger:    hub.logger.With("account_id", accountID),
		send:      make(chan []byte, cfg.SendBuffer),
	}
}

func (c *Client) AccountID() string {
	return c.accountID
}

// Messages exposes the outbound buffer. It is closed when the client is
// unregistered.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// enqueue offers raw to the send buffer without blocking. It reports false
// when the buffer is full or the client is gone.
func (c *Client) enqueue(raw []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) reply(frame replyFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Client) replyError(forType string, err error) {
	c.reply(replyFrame{Type: "error", For: forType, Error: apperr.Message(err)})
}

// ReadPump consumes frames until the connection fails, then unregisters the
// client so its room memberships are released.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		c.handleFrame(ctx, payload)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, payload []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.replyError("", apperr.InvalidInput("invalid payload"))
		return
	}
	switch frame.Type {
	case "join":
		if err := c.hub.Subscribe(frame.RoomID, c); err != nil {
			c.replyError(frame.Type, err)
			return
		}
		c.reply(replyFrame{Type: "ack", For: "join", RoomID: frame.RoomID})
	case "leave":
		c.hub.Unsubscribe(frame.RoomID, c)
		c.reply(replyFrame{Type: "ack", For: "leave", RoomID: frame.RoomID})
	case "chat":
		c.handleChat(ctx, frame)
	default:
		c.replyError(frame.Type, apperr.InvalidInput("unknown command"))
	}
}

func (c *Client) handleChat(ctx context.Context, frame inboundFrame) {
	if !c.hub.IsMember(frame.RoomID, c) {
		c.replyError("chat", apperr.InvalidInput("join room first"))
		return
	}
	if !c.limiter.Allow() {
		c.hub.metrics.RateLimited("chat")
		c.replyError("chat", apperr.New(apperr.KindRateLimited, "slow down"))
		return
	}
	if _, err := c.hub.PublishChat(ctx, frame.RoomID, c.accountID, frame.Message); err != nil {
		c.replyError("chat", err)
		return
	}
	c.reply(replyFrame{Type: "ack", For: "chat", RoomID: frame.RoomID})
}

// Server upgrades HTTP requests to websocket clients of a Hub.
type Server struct {
	hub      *Hub
	cfg      ClientConfig
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, cfg ClientConfig) *Server {
	return &Server{
		hub: hub,
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the deployment's edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request for accountID and runs the client's pumps. It
// returns once the read pump exits. On upgrade failure the error response has
// already been written.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, accountID string) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	client := NewClient(s.hub, conn, accountID, s.cfg)
	s.hub.Register(client)
	go client.WritePump()
	client.ReadPump(r.Context())
	return nil
}
