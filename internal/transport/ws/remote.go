package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"memematch/internal/store"
)

const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("store connection lost")
	ErrForbidden    = errors.New("path not allowed")
	ErrRateLimited  = errors.New("rate limited")
)

// RemoteError is an error reported by the store server
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

// Is maps server error codes onto the matching local sentinels
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case ErrCodeInvalidPath:
		return target == store.ErrInvalidPath
	case ErrCodeForbidden:
		return target == ErrForbidden
	case ErrCodeRateLimited:
		return target == ErrRateLimited
	}
	return false
}

type reply struct {
	msg ServerMessage
	err error
}

type remoteSub struct {
	path       string
	onSnapshot func(store.Snapshot)
	onError    func(error)
}

// RemoteStore is a store.Store backed by a store server over one websocket.
// Callbacks run in arrival order on a single goroutine, so they may issue
// further store calls. Subscriptions survive reconnects.
type RemoteStore struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
	events *dispatcher
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	// linkMu orders subscribe sends against the resubscribe after a reconnect
	linkMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	state    store.ConnState
	closed   bool
	seq      uint64
	pending  map[string]chan reply
	subs     map[string]*remoteSub
	watchers map[uint64]func(store.ConnState)
}

var (
	_ store.Store             = (*RemoteStore)(nil)
	_ store.ConnectionWatcher = (*RemoteStore)(nil)
)

// Dial connects to the store server at url, e.g.
// ws://host/ws?lobby=ABC123&playerId=<id>
func Dial(ctx context.Context, url string, logger *slog.Logger) (*RemoteStore, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: writeWait}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial store: %w", err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &RemoteStore{
		url:      url,
		dialer:   dialer,
		logger:   logger,
		events:   newDispatcher(),
		ctx:      rctx,
		cancel:   cancel,
		conn:     conn,
		state:    store.Connected,
		pending:  make(map[string]chan reply),
		subs:     make(map[string]*remoteSub),
		watchers: make(map[uint64]func(store.ConnState)),
	}
	go r.events.run()
	go r.readLoop(conn)
	return r, nil
}

// Read returns the value at path
func (r *RemoteStore) Read(ctx context.Context, path string) (store.Snapshot, error) {
	msg, err := r.call(ctx, MsgRead, PathPayload{Path: path})
	if err != nil {
		return store.Snapshot{}, err
	}
	return decodeSnapshot(msg.Payload)
}

// Write replaces the value at path; nil deletes it
func (r *RemoteStore) Write(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	_, err = r.call(ctx, MsgWrite, WritePayload{Path: path, Value: raw})
	return err
}

// Update merges values at several paths in one commit
func (r *RemoteStore) Update(ctx context.Context, values map[string]any) error {
	payload := UpdatePayload{Values: make(map[string]json.RawMessage, len(values))}
	for path, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		payload.Values[path] = raw
	}
	_, err := r.call(ctx, MsgUpdate, payload)
	return err
}

// Subscribe registers a subscription. While disconnected it is sent once the
// link comes back.
func (r *RemoteStore) Subscribe(path string, onSnapshot func(store.Snapshot), onError func(error)) func() {
	r.linkMu.Lock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.linkMu.Unlock()
		return func() {}
	}
	id := "sub-" + r.nextIDLocked()
	r.subs[id] = &remoteSub{path: path, onSnapshot: onSnapshot, onError: onError}
	r.mu.Unlock()

	err := r.send(ClientMessage{Type: MsgSubscribe, ID: id, Payload: pathPayload(path)})
	r.linkMu.Unlock()
	if err != nil && !errors.Is(err, ErrNotConnected) && onError != nil {
		r.events.push(func() { onError(err) })
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			_, ok := r.subs[id]
			delete(r.subs, id)
			r.mu.Unlock()
			if ok {
				_ = r.send(ClientMessage{Type: MsgUnsubscribe, ID: id})
			}
		})
	}
}

// WatchConnection reports the current link state, then every change
func (r *RemoteStore) WatchConnection(fn func(store.ConnState)) func() {
	r.mu.Lock()
	r.seq++
	key := r.seq
	r.watchers[key] = fn
	state := r.state
	r.mu.Unlock()

	r.events.push(func() { fn(state) })
	return func() {
		r.mu.Lock()
		delete(r.watchers, key)
		r.mu.Unlock()
	}
}

// Close drops the connection and fails pending calls
func (r *RemoteStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.state = store.Disconnected
	conn := r.conn
	pending := r.pending
	r.pending = make(map[string]chan reply)
	r.mu.Unlock()

	r.cancel()
	for _, ch := range pending {
		deliver(ch, reply{err: store.ErrClosed})
	}
	r.notify(store.Disconnected)
	r.events.close()

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}

func (r *RemoteStore) call(ctx context.Context, msgType MessageType, payload any) (ServerMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ServerMessage{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ServerMessage{}, store.ErrClosed
	}
	id := r.nextIDLocked()
	ch := make(chan reply, 1)
	r.pending[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	if err := r.send(ClientMessage{Type: msgType, ID: id, Payload: data}); err != nil {
		return ServerMessage{}, err
	}

	select {
	case rep := <-ch:
		if rep.err != nil {
			return ServerMessage{}, rep.err
		}
		if rep.msg.Type == MsgError {
			return ServerMessage{}, decodeError(rep.msg)
		}
		return rep.msg, nil
	case <-ctx.Done():
		return ServerMessage{}, ctx.Err()
	case <-r.ctx.Done():
		return ServerMessage{}, store.ErrClosed
	}
}

func (r *RemoteStore) send(msg ClientMessage) error {
	r.mu.Lock()
	conn, state := r.conn, r.state
	r.mu.Unlock()
	if state != store.Connected {
		return ErrNotConnected
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		// the read loop notices the dead link and reconnects
		conn.Close()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (r *RemoteStore) readLoop(conn *websocket.Conn) {
	for conn != nil {
		r.prepare(conn)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				r.logger.Debug("store link read error", "error", err)
				break
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))

			var msg ServerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				r.logger.Warn("malformed store message", "error", err)
				continue
			}
			r.handle(msg)
		}

		if !r.lost(conn) {
			return
		}
		conn = r.reconnect()
	}
}

func (r *RemoteStore) prepare(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
}

func (r *RemoteStore) handle(msg ServerMessage) {
	switch msg.Type {
	case MsgResult, MsgError:
		r.mu.Lock()
		ch, ok := r.pending[msg.ID]
		sub := r.subs[msg.ID]
		r.mu.Unlock()
		if ok {
			deliver(ch, reply{msg: msg})
			return
		}
		if msg.Type != MsgError {
			return
		}
		err := decodeError(msg)
		if sub == nil || sub.onError == nil {
			r.logger.Warn("store error", "id", msg.ID, "error", err)
			return
		}
		id := msg.ID
		r.events.push(func() {
			if r.active(id) {
				sub.onError(err)
			}
		})
	case MsgSnapshot:
		r.mu.Lock()
		sub := r.subs[msg.ID]
		r.mu.Unlock()
		if sub == nil {
			return
		}
		snap, err := decodeSnapshot(msg.Payload)
		if err != nil {
			r.logger.Warn("malformed snapshot", "id", msg.ID, "error", err)
			return
		}
		id := msg.ID
		r.events.push(func() {
			if r.active(id) {
				sub.onSnapshot(snap)
			}
		})
	case MsgConnected:
		var p ConnectedPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			r.logger.Debug("store link established", "lobby", p.LobbyCode, "playerID", p.PlayerID)
		}
	}
}

// lost marks the link down and fails in-flight calls. It returns false once
// the store is closed.
func (r *RemoteStore) lost(conn *websocket.Conn) bool {
	conn.Close()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.state = store.Reconnecting
	pending := r.pending
	r.pending = make(map[string]chan reply)
	r.mu.Unlock()

	for _, ch := range pending {
		deliver(ch, reply{err: ErrNotConnected})
	}
	r.logger.Warn("store link lost, reconnecting")
	r.notify(store.Reconnecting)
	return true
}

// reconnect dials with exponential backoff and replays every subscription
func (r *RemoteStore) reconnect() *websocket.Conn {
	backoff := minBackoff
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, _, err := r.dialer.DialContext(r.ctx, r.url, nil)
		if err != nil {
			r.logger.Debug("reconnect failed", "error", err, "retryIn", backoff)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		r.linkMu.Lock()
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			r.linkMu.Unlock()
			conn.Close()
			return nil
		}
		r.conn = conn
		r.state = store.Connected
		subs := make(map[string]string, len(r.subs))
		for id, sub := range r.subs {
			subs[id] = sub.path
		}
		r.mu.Unlock()

		for id, path := range subs {
			if err := r.send(ClientMessage{Type: MsgSubscribe, ID: id, Payload: pathPayload(path)}); err != nil {
				break
			}
		}
		r.linkMu.Unlock()

		r.logger.Info("store link restored", "subscriptions", len(subs))
		r.notify(store.Connected)
		return conn
	}
}

func (r *RemoteStore) notify(state store.ConnState) {
	r.mu.Lock()
	fns := make([]func(store.ConnState), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn := fn
		r.events.push(func() { fn(state) })
	}
}

func (r *RemoteStore) active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[id]
	return ok
}

func (r *RemoteStore) nextIDLocked() string {
	r.seq++
	return strconv.FormatUint(r.seq, 10)
}

func deliver(ch chan reply, rep reply) {
	select {
	case ch <- rep:
	default:
	}
}

func pathPayload(path string) json.RawMessage {
	data, _ := json.Marshal(PathPayload{Path: path})
	return data
}

func decodeSnapshot(raw json.RawMessage) (store.Snapshot, error) {
	var p struct {
		Path  string          `json:"path"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	value, err := decodeValue(p.Value)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("decode snapshot value: %w", err)
	}
	return store.Snapshot{Path: p.Path, Value: value}, nil
}

func decodeError(msg ServerMessage) error {
	var p ErrorPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return &RemoteError{Code: ErrCodeInternalError, Message: "unreadable error"}
	}
	return &RemoteError{Code: p.Code, Message: p.Message}
}

// dispatcher runs callbacks one at a time in push order. The queue is
// unbounded so the read loop never waits on a slow callback.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{wake: make(chan struct{}, 1)}
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.signal()
}

// close lets run finish what is queued, then return
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
	}
}
