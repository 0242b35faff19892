// internal/store/memory.go
package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation. It backs all tests and
// single-node deployments. Commits resolve ServerTimestamp sentinels against
// a single clock, so relative durations are skew-free by construction.
type MemoryStore struct {
	mu    sync.Mutex
	tree  map[string]interface{}
	subs  map[int]*memorySub
	next  int
	conns map[ConnID]map[string]interface{}
	nowFn func() int64
}

type memorySub struct {
	segs []string
	fn   func(interface{})

	mu         sync.Mutex
	cond       *sync.Cond
	pending    []interface{}
	closed     bool
	delivering bool
}

// NewMemoryStore returns an empty store using the wall clock for
// server-assigned timestamps.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree:  make(map[string]interface{}),
		subs:  make(map[int]*memorySub),
		conns: make(map[ConnID]map[string]interface{}),
		nowFn: func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the timestamp source. Tests use this to make
// think-time and disconnect arithmetic deterministic.
func (m *MemoryStore) SetClock(fn func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = fn
}

func (m *MemoryStore) Read(_ context.Context, path string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTree(m.lookup(splitPath(path))), nil
}

func (m *MemoryStore) Write(ctx context.Context, path string, value interface{}) error {
	return m.MultiWrite(ctx, map[string]interface{}{path: value})
}

func (m *MemoryStore) MultiWrite(_ context.Context, updates map[string]interface{}) error {
	m.mu.Lock()
	now := m.nowFn()
	for _, path := range orderedPaths(updates) {
		m.set(splitPath(path), resolveTimestamps(updates[path], now))
	}
	notified := m.collectNotifications(updates)
	m.mu.Unlock()

	for _, n := range notified {
		n.sub.enqueue(n.value)
	}
	return nil
}

type notification struct {
	sub   *memorySub
	value interface{}
}

// collectNotifications finds every subscriber whose root is touched by the
// commit and snapshots the value it should see. Caller holds m.mu.
func (m *MemoryStore) collectNotifications(updates map[string]interface{}) []notification {
	var out []notification
	for _, sub := range m.subs {
		touched := false
		for path := range updates {
			if pathsOverlap(sub.segs, splitPath(path)) {
				touched = true
				break
			}
		}
		if touched {
			out = append(out, notification{sub, cloneTree(m.lookup(sub.segs))})
		}
	}
	return out
}

func (m *MemoryStore) Subscribe(path string, fn func(interface{})) (cancel func()) {
	sub := &memorySub{segs: splitPath(path), fn: fn}
	sub.cond = sync.NewCond(&sub.mu)

	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = sub
	initial := cloneTree(m.lookup(sub.segs))
	m.mu.Unlock()

	go sub.deliverLoop()
	sub.enqueue(initial)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		sub.close()
	}
}

func (m *MemoryStore) RegisterDisconnectAction(conn ConnID, path string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions, ok := m.conns[conn]
	if !ok {
		actions = make(map[string]interface{})
		m.conns[conn] = actions
	}
	actions[path] = value
}

func (m *MemoryStore) CancelDisconnectAction(conn ConnID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if actions, ok := m.conns[conn]; ok {
		delete(actions, path)
		if len(actions) == 0 {
			delete(m.conns, conn)
		}
	}
}

func (m *MemoryStore) DropConnection(conn ConnID) {
	m.mu.Lock()
	actions := m.conns[conn]
	delete(m.conns, conn)
	m.mu.Unlock()
	if len(actions) == 0 {
		return
	}
	// A dropped socket applies its armed writes as one commit, mirroring the
	// all-or-nothing semantics of a clean MultiWrite.
	_ = m.MultiWrite(context.Background(), actions)
}

// lookup returns the subtree at segs, or nil when absent. Caller holds m.mu.
func (m *MemoryStore) lookup(segs []string) interface{} {
	var cur interface{} = m.tree
	for _, s := range segs {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = node[s]
		if !ok {
			return nil
		}
	}
	return cur
}

// set overwrites the subtree at segs; nil deletes it. Caller holds m.mu.
func (m *MemoryStore) set(segs []string, value interface{}) {
	if len(segs) == 0 {
		if node, ok := value.(map[string]interface{}); ok {
			m.tree = node
		} else {
			m.tree = make(map[string]interface{})
		}
		return
	}
	node := m.tree
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[s] = child
		}
		node = child
	}
	last := segs[len(segs)-1]
	if value == nil {
		delete(node, last)
	} else {
		node[last] = value
	}
}

func (s *memorySub) enqueue(value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, value)
	s.cond.Signal()
}

// deliverLoop hands queued snapshots to the callback one at a time, in
// enqueue order. The mutex is released around the callback so a subscriber
// may write back into the store; re-entrant pushes only append to pending.
// The delivering flag lets close wait out an in-flight callback, so no push
// is observed after cancel returns.
func (s *memorySub) deliverLoop() {
	s.mu.Lock()
	for {
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		v := s.pending[0]
		s.pending = s.pending[1:]
		s.delivering = true
		s.mu.Unlock()

		s.fn(v)

		s.mu.Lock()
		s.delivering = false
		s.cond.Broadcast()
	}
}

// close must not be called from inside the subscription callback.
func (s *memorySub) close() {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.cond.Broadcast()
	for s.delivering {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// pathsOverlap reports whether one path is a prefix of the other, i.e. a
// write at one is visible from a subscription rooted at the other.
func pathsOverlap(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// resolveTimestamps replaces every ServerTimestamp sentinel in the value
// tree with the commit clock, in milliseconds.
func resolveTimestamps(value interface{}, now int64) interface{} {
	switch v := value.(type) {
	case ServerTimestamp, *ServerTimestamp:
		return now
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = resolveTimestamps(child, now)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = resolveTimestamps(child, now)
		}
		return out
	default:
		return value
	}
}

// cloneTree deep-copies a JSON tree so subscribers never alias store state.
func cloneTree(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = cloneTree(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = cloneTree(child)
		}
		return out
	default:
		return value
	}
}
