package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store holding a JSON-shaped tree.
// Snapshots are delivered by whichever writer drains the notification queue,
// so a subscriber always observes commits in order.
type Memory struct {
	mu       sync.Mutex
	root     map[string]any
	subs     map[uint64]*subscription
	nextID   uint64
	queue    []notification
	draining bool
	closed   bool
	now      func() time.Time
}

type subscription struct {
	id         uint64
	path       string
	onSnapshot func(Snapshot)
	onError    func(error)
	active     bool
}

type notification struct {
	sub  *subscription
	snap Snapshot
}

// Option configures a Memory store
type Option func(*Memory)

// WithClock sets the clock used to resolve ServerTimestamp
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory store
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		root: make(map[string]any),
		subs: make(map[uint64]*subscription),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Read returns a copy of the value at path
func (m *Memory) Read(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	parts, err := SplitPath(path)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return Snapshot{Path: path, Value: deepCopy(lookup(m.root, parts))}, nil
}

// Write replaces the value at path; nil deletes it
func (m *Memory) Write(ctx context.Context, path string, value any) error {
	return m.Update(ctx, map[string]any{path: value})
}

// Update applies every path in values atomically
func (m *Memory) Update(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	paths := make([]string, 0, len(values))
	split := make(map[string][]string, len(values))
	for p := range values {
		parts, err := SplitPath(p)
		if err != nil {
			return fmt.Errorf("%w: %q", err, p)
		}
		for _, other := range paths {
			if Related(p, other) {
				return fmt.Errorf("%w: %q and %q", ErrOverlappingPaths, p, other)
			}
		}
		paths = append(paths, p)
		split[p] = parts
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	nowMillis := m.now().UnixMilli()
	normalized := make(map[string]any, len(values))
	for p, v := range values {
		nv, err := normalize(v, nowMillis)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("encode %q: %w", p, err)
		}
		normalized[p] = nv
	}
	for p, v := range normalized {
		m.root = assign(m.root, split[p], v)
	}
	m.enqueueLocked(paths)
	m.mu.Unlock()

	m.drain()
	return nil
}

// Subscribe registers a listener on path and queues its initial snapshot
func (m *Memory) Subscribe(path string, onSnapshot func(Snapshot), onError func(error)) func() {
	parts, err := SplitPath(path)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return func() {}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if onError != nil {
			onError(ErrClosed)
		}
		return func() {}
	}
	m.nextID++
	sub := &subscription{
		id:         m.nextID,
		path:       path,
		onSnapshot: onSnapshot,
		onError:    onError,
		active:     true,
	}
	m.subs[sub.id] = sub
	m.queue = append(m.queue, notification{
		sub:  sub,
		snap: Snapshot{Path: path, Value: deepCopy(lookup(m.root, parts))},
	})
	m.mu.Unlock()

	m.drain()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		sub.active = false
		delete(m.subs, sub.id)
	}
}

// WatchConnection reports a permanently connected state
func (m *Memory) WatchConnection(fn func(ConnState)) func() {
	fn(Connected)
	return func() {}
}

// Close drops all subscribers and rejects further operations
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, sub := range m.subs {
		sub.active = false
		delete(m.subs, id)
	}
	m.queue = nil
}

// SubscriberCount returns the number of live subscriptions
func (m *Memory) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) enqueueLocked(changed []string) {
	ids := make([]uint64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		sub := m.subs[id]
		for _, p := range changed {
			if Related(sub.path, p) {
				parts, _ := SplitPath(sub.path)
				m.queue = append(m.queue, notification{
					sub:  sub,
					snap: Snapshot{Path: sub.path, Value: deepCopy(lookup(m.root, parts))},
				})
				break
			}
		}
	}
}

func (m *Memory) drain() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		n := m.queue[0]
		m.queue = m.queue[1:]
		if !n.sub.active {
			continue
		}
		m.mu.Unlock()
		n.sub.onSnapshot(n.snap)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func lookup(root map[string]any, parts []string) any {
	var cur any = root
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[p]
		if !ok {
			return nil
		}
	}
	if node, ok := cur.(map[string]any); ok && len(node) == 0 {
		return nil
	}
	return cur
}

// assign sets value at parts below root, pruning maps left empty by a delete
func assign(root map[string]any, parts []string, value any) map[string]any {
	if len(parts) == 0 {
		if node, ok := value.(map[string]any); ok {
			return node
		}
		return make(map[string]any)
	}

	key := parts[0]
	if len(parts) == 1 {
		if value == nil {
			delete(root, key)
		} else {
			root[key] = value
		}
		return root
	}

	child, ok := root[key].(map[string]any)
	if !ok {
		if value == nil {
			return root
		}
		child = make(map[string]any)
	}
	child = assign(child, parts[1:], value)
	if len(child) == 0 {
		delete(root, key)
	} else {
		root[key] = child
	}
	return root
}

// normalize converts any Go value into the JSON-shaped tree form and resolves
// ServerTimestamp placeholders.
func normalize(v any, nowMillis int64) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return resolve(out, json.Number(strconv.FormatInt(nowMillis, 10))), nil
}

func resolve(v any, ts json.Number) any {
	switch node := v.(type) {
	case map[string]any:
		if len(node) == 1 && node[".sv"] == "timestamp" {
			return ts
		}
		for k, child := range node {
			r := resolve(child, ts)
			if r == nil {
				delete(node, k)
				continue
			}
			if m, ok := r.(map[string]any); ok && len(m) == 0 {
				delete(node, k)
				continue
			}
			node[k] = r
		}
		if len(node) == 0 {
			return nil
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = resolve(child, ts)
		}
		return node
	}
	return v
}

func deepCopy(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = deepCopy(child)
		}
		return out
	}
	return v
}
