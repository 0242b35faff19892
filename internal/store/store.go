// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers surface it as a connectivity problem; game logic never retries
// beyond the store's own retry policy.
var ErrUnavailable = errors.New("store unavailable")

// ConnID identifies a single client connection for the purposes of
// disconnect actions. Each websocket session obtains a fresh ConnID.
type ConnID string

// ServerTimestamp is a placeholder value resolved by the store at commit
// time to its own wall clock (milliseconds since epoch). All
// duration-sensitive fields (bidAt, roundStart, lastSeen, disconnectedAt)
// must be written with this sentinel rather than a client clock.
type ServerTimestamp struct{}

// Store is the replicated key-value contract the game core runs on.
// Paths are slash-separated ("games/ABC123/host/bid"). Values are JSON
// trees: maps, slices, strings, numbers, bools. Writing nil deletes the
// subtree at the path.
type Store interface {
	// Read returns the value at path, or nil if the path is absent.
	Read(ctx context.Context, path string) (interface{}, error)

	// Write overwrites the value at path.
	Write(ctx context.Context, path string, value interface{}) error

	// MultiWrite applies every path/value pair as a single atomic commit.
	// Subscribers observe either none or all of the updates.
	MultiWrite(ctx context.Context, updates map[string]interface{}) error

	// Subscribe pushes the full current value at path immediately and then
	// again on every change at or below it. Pushes for the same path are
	// delivered in write order. The returned function cancels the
	// subscription; the callback is never invoked after cancel returns.
	Subscribe(path string, fn func(value interface{})) (cancel func())

	// RegisterDisconnectAction arranges for value to be written at path if
	// conn drops without a clean exit. CancelDisconnectAction removes it.
	RegisterDisconnectAction(conn ConnID, path string, value interface{})
	CancelDisconnectAction(conn ConnID, path string)

	// DropConnection fires all of conn's registered disconnect actions and
	// forgets them. Called by the transport layer when a socket dies.
	DropConnection(conn ConnID)
}

// Encode converts a typed value into the store's JSON-tree representation.
func Encode(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store encode: %w", err)
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("store encode: %w", err)
	}
	return tree, nil
}

// Decode converts a store JSON tree back into a typed value.
func Decode(tree interface{}, out interface{}) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("store decode: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("store decode: %w", err)
	}
	return nil
}

// splitPath breaks "a/b/c" into its segments, dropping empty parts.
func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// joinPath is the inverse of splitPath.
func joinPath(segs []string) string {
	return strings.Join(segs, "/")
}

// orderedPaths returns a commit's paths shallowest-first so a write to an
// object and to one of its fields in the same commit leaves the field write
// in effect regardless of map iteration order.
func orderedPaths(updates map[string]interface{}) []string {
	paths := make([]string, 0, len(updates))
	for p := range updates {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := len(splitPath(paths[i])), len(splitPath(paths[j]))
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
	return paths
}
