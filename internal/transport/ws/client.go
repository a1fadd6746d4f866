package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"memematch/internal/domain"
	"memematch/internal/store"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Size of the send channel buffer
	sendBufferSize = 256
)

// Limits bounds what one connection may ask of the store
type Limits struct {
	MessagesPerSecond float64
	Burst             int
	MaxMessageBytes   int64
}

// DefaultLimits returns the standard per-connection limits
func DefaultLimits() Limits {
	return Limits{
		MessagesPerSecond: 20,
		Burst:             40,
		MaxMessageBytes:   64 * 1024,
	}
}

var errForbiddenPath = errors.New("path outside lobby scope")

// Client is one player's store session, confined to their lobby's subtree
type Client struct {
	conn      *websocket.Conn
	store     store.Store
	lobbyCode string
	playerID  string
	limits    Limits
	limiter   *rate.Limiter
	send      chan []byte
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[string]func()
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, s store.Store, lobbyCode, playerID string, limits Limits, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:      conn,
		store:     s,
		lobbyCode: lobbyCode,
		playerID:  playerID,
		limits:    limits,
		limiter:   rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), limits.Burst),
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("lobby", lobbyCode, "playerID", playerID),
		subs:      make(map[string]func()),
	}
}

// Send queues a message. A client that cannot keep up is disconnected rather
// than skipping snapshots; it resubscribes on reconnect.
func (c *Client) Send(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.logger.Warn("send buffer full, closing connection")
	return c.Close()
}

// Close releases subscriptions and the connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]func())
	close(c.done)
	c.mu.Unlock()

	c.cancel()
	for _, unsub := range subs {
		unsub()
	}
	return c.conn.Close()
}

// Run starts the client's read and write pumps
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump pumps messages from the WebSocket connection
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.limits.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message from the client
func (c *Client) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", ErrCodeInvalidMessage, "Invalid message format")
		return
	}

	if msg.Type != MsgPing && !c.limiter.Allow() {
		c.sendError(msg.ID, ErrCodeRateLimited, "Too many messages")
		return
	}

	switch msg.Type {
	case MsgRead:
		c.handleRead(msg)
	case MsgWrite:
		c.handleWrite(msg)
	case MsgUpdate:
		c.handleUpdate(msg)
	case MsgSubscribe:
		c.handleSubscribe(msg)
	case MsgUnsubscribe:
		c.handleUnsubscribe(msg)
	case MsgPing:
		c.sendMessage(MsgPong, msg.ID, nil)
	default:
		c.sendError(msg.ID, ErrCodeInvalidMessage, "Unknown message type")
	}
}

func (c *Client) handleRead(msg ClientMessage) {
	var p PathPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError(msg.ID, ErrCodeInvalidMessage, "Invalid payload")
		return
	}
	if err := c.authorize(p.Path, false); err != nil {
		c.sendStoreError(msg.ID, err)
		return
	}

	snap, err := c.store.Read(c.ctx, p.Path)
	if err != nil {
		c.sendStoreError(msg.ID, err)
		return
	}
	c.sendMessage(MsgResult, msg.ID, SnapshotPayload{Path: snap.Path, Value: snap.Value})
}

func (c *Client) handleWrite(msg ClientMessage) {
	var p WritePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError(msg.ID, ErrCodeInvalidMessage, "Invalid payload")
		return
	}
	if err := c.authorize(p.Path, true); err != nil {
		c.sendStoreError(msg.ID, err)
		return
	}
	value, err := decodeValue(p.Value)
	if err != nil {
		c.sendError(msg.ID, ErrCodeInvalidMessage, "Invalid value")
		return
	}

	if err := c.store.Write(c.ctx, p.Path, value); err != nil {
		c.sendStoreError(msg.ID, err)
		return
	}
	c.sendMessage(MsgResult, msg.ID, nil)
}

func (c *Client) handleUpdate(msg ClientMessage) {
	var p UpdatePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || len(p.Values) == 0 {
		c.sendError(msg.ID, ErrCodeInvalidMessage, "Invalid payload")
		return
	}

	values := make(map[string]any, len(p.Values))
	for path, raw := range p.Values {
		if err := c.authorize(path, true); err != nil {
			c.sendStoreError(msg.ID, err)
			return
		}
		value, err := decodeValue(raw)
		if err != nil {
			c.sendError(msg.ID, ErrCodeInvalidMessage, "Invalid value")
			return
		}
		values[path] = value
	}

	if err := c.store.Update(c.ctx, values); err != nil {
		c.sendStoreError(msg.ID, err)
		return
	}
	c.sendMessage(MsgResult, msg.ID, nil)
}

func (c *Client) handleSubscribe(msg ClientMessage) {
	var p PathPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || msg.ID == "" {
		c.sendError(msg.ID, ErrCodeInvalidMessage, "Invalid payload")
		return
	}
	if err := c.authorize(p.Path, false); err != nil {
		c.sendStoreError(msg.ID, err)
		return
	}

	c.mu.Lock()
	if _, exists := c.subs[msg.ID]; exists || c.closed {
		c.mu.Unlock()
		c.sendError(msg.ID, ErrCodeInvalidMessage, "Subscription id in use")
		return
	}
	// Reserve the id before snapshots start flowing.
	c.subs[msg.ID] = func() {}
	c.mu.Unlock()

	id := msg.ID
	unsub := c.store.Subscribe(p.Path,
		func(snap store.Snapshot) {
			c.sendMessage(MsgSnapshot, id, SnapshotPayload{Path: snap.Path, Value: snap.Value})
		},
		func(err error) {
			c.sendStoreError(id, err)
		},
	)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return
	}
	c.subs[id] = unsub
	c.mu.Unlock()
}

func (c *Client) handleUnsubscribe(msg ClientMessage) {
	c.mu.Lock()
	unsub, ok := c.subs[msg.ID]
	delete(c.subs, msg.ID)
	c.mu.Unlock()

	if ok {
		unsub()
	}
}

// authorize confines reads to the lobby and writes to its game state and players
func (c *Client) authorize(path string, write bool) error {
	if _, err := store.SplitPath(path); err != nil {
		return err
	}
	if !write {
		if store.Within(path, domain.LobbyPath(c.lobbyCode)) {
			return nil
		}
		return errForbiddenPath
	}
	if store.Within(path, domain.GameStatePath(c.lobbyCode)) || store.Within(path, domain.PlayersPath(c.lobbyCode)) {
		return nil
	}
	return errForbiddenPath
}

func (c *Client) sendMessage(msgType MessageType, id string, payload interface{}) {
	msg, err := NewServerMessage(msgType, id, payload)
	if err != nil {
		c.logger.Error("encode message", "type", msgType, "error", err)
		return
	}
	c.Send(msg)
}

// sendError sends an error message to the client
func (c *Client) sendError(id, code, message string) {
	c.sendMessage(MsgError, id, &ErrorPayload{Code: code, Message: message})
}

func (c *Client) sendStoreError(id string, err error) {
	switch {
	case errors.Is(err, errForbiddenPath):
		c.sendError(id, ErrCodeForbidden, err.Error())
	case errors.Is(err, store.ErrInvalidPath), errors.Is(err, store.ErrOverlappingPaths):
		c.sendError(id, ErrCodeInvalidPath, err.Error())
	default:
		c.logger.Error("store operation failed", "id", id, "error", err)
		c.sendError(id, ErrCodeInternalError, "Store operation failed")
	}
}

// decodeValue turns a JSON value into the store's tree form; null deletes
func decodeValue(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
