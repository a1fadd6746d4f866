// Package store defines the key-path realtime document store the game runs on,
// and an in-memory implementation of it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrInvalidPath      = errors.New("invalid store path")
	ErrOverlappingPaths = errors.New("update paths overlap")
	ErrClosed           = errors.New("store closed")
)

// ServerTimestamp is replaced by the store's clock, in unix milliseconds, when the write commits.
var ServerTimestamp = map[string]any{".sv": "timestamp"}

// Store is the contract consumed by the game: point reads and writes, atomic
// multi-path merges and push subscriptions delivering full snapshots.
type Store interface {
	Read(ctx context.Context, path string) (Snapshot, error)
	Write(ctx context.Context, path string, value any) error
	Update(ctx context.Context, values map[string]any) error
	// Subscribe delivers the current value, then a snapshot after every change
	// touching path, in commit order. The returned func cancels the subscription.
	Subscribe(path string, onSnapshot func(Snapshot), onError func(error)) (unsubscribe func())
}

// ConnState describes the link between a client and the store
type ConnState string

const (
	Connected    ConnState = "connected"
	Disconnected ConnState = "disconnected"
	Reconnecting ConnState = "reconnecting"
)

// ConnectionWatcher is implemented by stores that can lose their connection
type ConnectionWatcher interface {
	WatchConnection(fn func(ConnState)) (cancel func())
}

// Snapshot is the value at a path at one point in time
type Snapshot struct {
	Path  string
	Value any
}

// Exists reports whether a value is present at the path
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Decode unmarshals the snapshot value into v. An absent value leaves v untouched.
func (s Snapshot) Decode(v any) error {
	if s.Value == nil {
		return nil
	}
	data, err := json.Marshal(s.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// MarshalJSON lets snapshots travel over the wire as {"path":..,"value":..}
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}{s.Path, s.Value})
}

// SplitPath validates a slash separated path and returns its segments
func SplitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, "#$[]") {
			return nil, ErrInvalidPath
		}
	}
	return parts, nil
}

// Related reports whether a change at one path is visible at the other,
// i.e. one is an ancestor of (or equal to) the other.
func Related(a, b string) bool {
	a = strings.Trim(a, "/")
	b = strings.Trim(b, "/")
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Within reports whether path lies at or below root
func Within(path, root string) bool {
	path = strings.Trim(path, "/")
	root = strings.Trim(root, "/")
	return path == root || strings.HasPrefix(path, root+"/")
}
