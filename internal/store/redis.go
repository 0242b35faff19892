// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// redisKeyPrefix namespaces every document key and the change channel.
const redisKeyPrefix = "goof"

// emptyListMarker stands in for an empty JSON array inside stored documents.
// Lua's cjson decodes [] and {} to the same empty table and re-encodes it as
// {}, so an empty hand or prize deck written as a real array would come back
// as an object and fail to decode. The marker survives any number of script
// round-trips; the read path turns it back into an array.
const emptyListMarker = "\x00emptyList"

// commitScript applies a batch of path patches across documents as one
// atomic commit. KEYS[i] is the document key for patch i; ARGV[i] is a JSON
// object {"path": [segments beyond the document root], "value": ..., "ts": bool}.
// A "ts" patch is resolved to the Redis server clock in milliseconds. Each
// touched document gets its "_rev" bumped and a change notification is
// published with the new revision so subscribers can drop stale pushes.
var commitScript = redis.NewScript(`
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)
local touched = {}
for i = 1, #KEYS do
  local patch = cjson.decode(ARGV[i])
  local raw = redis.call('GET', KEYS[i])
  local doc
  if raw then doc = cjson.decode(raw) else doc = {} end
  local segs = patch.path
  local value = patch.value
  if patch.ts then value = now end
  if #segs == 0 then
    if value == cjson.null then doc = {} else doc = value end
  else
    local node = doc
    for j = 1, #segs - 1 do
      if type(node[segs[j]]) ~= 'table' then node[segs[j]] = {} end
      node = node[segs[j]]
    end
    if value == cjson.null then node[segs[#segs]] = nil else node[segs[#segs]] = value end
  end
  touched[KEYS[i]] = doc
end
for key, doc in pairs(touched) do
  local rev = redis.call('INCR', key .. ':rev')
  if next(doc) == nil then
    redis.call('DEL', key)
  else
    redis.call('SET', key, cjson.encode(doc))
  end
  redis.call('PUBLISH', '` + redisKeyPrefix + `:changes', key .. '|' .. rev)
end
return 1
`)

// RedisStore implements Store on top of a single Redis instance. Each
// top-level object ("games/ABC123", "queue/u1", "users/u1") is one JSON
// document; pub/sub carries change notifications and subscribers re-read on
// every notification. Disconnect actions are held in-process because the
// gateway owning the socket is the component that observes the drop.
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger

	mu    sync.Mutex
	subs  map[int]*redisSub
	next  int
	conns map[ConnID]map[string]interface{}

	pubsub *redis.PubSub
	done   chan struct{}
}

type redisSub struct {
	segs    []string
	fn      func(interface{})
	lastRev map[string]int64

	mu     sync.Mutex
	closed bool
}

// NewRedisStore connects, verifies the server is reachable, and starts the
// notification fan-out loop.
func NewRedisStore(ctx context.Context, client *redis.Client, logger *logrus.Logger) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s := &RedisStore{
		client: client,
		logger: logger,
		subs:   make(map[int]*redisSub),
		conns:  make(map[ConnID]map[string]interface{}),
		done:   make(chan struct{}),
	}
	s.pubsub = client.Subscribe(ctx, redisKeyPrefix+":changes")
	go s.fanout()
	return s, nil
}

// Close stops the fan-out loop and releases the pub/sub connection.
func (s *RedisStore) Close() error {
	close(s.done)
	return s.pubsub.Close()
}

func (s *RedisStore) Read(ctx context.Context, path string) (interface{}, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("redis store: root reads are not supported")
	}
	if len(segs) == 1 {
		return s.readCollection(ctx, segs[0])
	}
	doc, err := s.readDoc(ctx, docKey(segs))
	if err != nil || doc == nil {
		return nil, err
	}
	var cur interface{} = doc
	for _, seg := range segs[2:] {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return nil, nil
		}
		cur, ok = node[seg]
		if !ok {
			return nil, nil
		}
	}
	return cur, nil
}

func (s *RedisStore) Write(ctx context.Context, path string, value interface{}) error {
	return s.MultiWrite(ctx, map[string]interface{}{path: value})
}

func (s *RedisStore) MultiWrite(ctx context.Context, updates map[string]interface{}) error {
	keys := make([]string, 0, len(updates))
	argv := make([]interface{}, 0, len(updates))
	for _, path := range orderedPaths(updates) {
		value := updates[path]
		segs := splitPath(path)
		if len(segs) < 2 {
			return fmt.Errorf("redis store: path %q does not address a document", path)
		}
		patch := map[string]interface{}{"path": segs[2:]}
		if _, ok := value.(ServerTimestamp); ok {
			patch["ts"] = true
		} else if _, ok := value.(*ServerTimestamp); ok {
			patch["ts"] = true
		} else {
			tree, err := Encode(value)
			if err != nil {
				return err
			}
			// Encoded nil survives as explicit JSON null, which the script
			// treats as a delete at that path.
			patch["value"] = markEmptyLists(tree)
		}
		raw, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("redis store: %w", err)
		}
		keys = append(keys, docKey(segs))
		argv = append(argv, string(raw))
	}
	if err := commitScript.Run(ctx, s.client, keys, argv...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Subscribe(path string, fn func(interface{})) (cancel func()) {
	sub := &redisSub{segs: splitPath(path), fn: fn, lastRev: make(map[string]int64)}

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = sub
	s.mu.Unlock()

	// Initial push mirrors MemoryStore semantics.
	go func() {
		value, err := s.Read(context.Background(), path)
		if err != nil {
			s.logger.Warnf("redis store: initial read for %q failed: %v", path, err)
			return
		}
		sub.push(value)
	}()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
	}
}

func (s *RedisStore) RegisterDisconnectAction(conn ConnID, path string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions, ok := s.conns[conn]
	if !ok {
		actions = make(map[string]interface{})
		s.conns[conn] = actions
	}
	actions[path] = value
}

func (s *RedisStore) CancelDisconnectAction(conn ConnID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if actions, ok := s.conns[conn]; ok {
		delete(actions, path)
		if len(actions) == 0 {
			delete(s.conns, conn)
		}
	}
}

func (s *RedisStore) DropConnection(conn ConnID) {
	s.mu.Lock()
	actions := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if len(actions) == 0 {
		return
	}
	if err := s.MultiWrite(context.Background(), actions); err != nil {
		s.logger.Errorf("redis store: disconnect actions for %s failed: %v", conn, err)
	}
}

// fanout forwards change notifications to matching subscribers.
func (s *RedisStore) fanout() {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			key, rev := parseChange(msg.Payload)
			if key == "" {
				continue
			}
			docSegs := splitPath(keyPath(key))
			s.mu.Lock()
			targets := make([]*redisSub, 0, len(s.subs))
			for _, sub := range s.subs {
				if pathsOverlap(sub.segs, docSegs) && sub.advance(key, rev) {
					targets = append(targets, sub)
				}
			}
			s.mu.Unlock()
			for _, sub := range targets {
				value, err := s.Read(context.Background(), joinPath(sub.segs))
				if err != nil {
					s.logger.Warnf("redis store: re-read for %q failed: %v", joinPath(sub.segs), err)
					continue
				}
				sub.push(value)
			}
		}
	}
}

// advance records the revision and reports whether it is new for this key.
func (r *redisSub) advance(key string, rev int64) bool {
	if rev <= r.lastRev[key] {
		return false
	}
	r.lastRev[key] = rev
	return true
}

func (r *redisSub) push(value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.fn(value)
}

// readCollection assembles "queue" or "games" style reads from the key space.
func (s *RedisStore) readCollection(ctx context.Context, collection string) (interface{}, error) {
	pattern := fmt.Sprintf("%s:%s:*", redisKeyPrefix, collection)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	out := make(map[string]interface{})
	for iter.Next(ctx) {
		key := iter.Val()
		segs := splitPath(keyPath(key))
		if len(segs) != 2 {
			continue
		}
		doc, err := s.readDoc(ctx, key)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out[segs[1]] = doc
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *RedisStore) readDoc(ctx context.Context, key string) (map[string]interface{}, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("redis store: corrupt document %s: %v", key, err)
	}
	restored, _ := restoreEmptyLists(doc).(map[string]interface{})
	return restored, nil
}

// markEmptyLists replaces every empty array in the value tree with the
// marker so cjson never sees one.
func markEmptyLists(value interface{}) interface{} {
	switch v := value.(type) {
	case []interface{}:
		if len(v) == 0 {
			return emptyListMarker
		}
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = markEmptyLists(child)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = markEmptyLists(child)
		}
		return out
	default:
		return value
	}
}

// restoreEmptyLists is the inverse of markEmptyLists.
func restoreEmptyLists(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if v == emptyListMarker {
			return []interface{}{}
		}
		return v
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = restoreEmptyLists(child)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = restoreEmptyLists(child)
		}
		return out
	default:
		return value
	}
}

// docKey maps the first two path segments onto a Redis key.
func docKey(segs []string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, segs[0], segs[1])
}

// keyPath is the inverse of docKey: "goof:games:ABC123" -> "games/ABC123".
func keyPath(key string) string {
	trimmed := strings.TrimPrefix(key, redisKeyPrefix+":")
	return strings.ReplaceAll(trimmed, ":", "/")
}

func parseChange(payload string) (string, int64) {
	for i := len(payload) - 1; i >= 0; i-- {
		if payload[i] == '|' {
			var rev int64
			if _, err := fmt.Sscanf(payload[i+1:], "%d", &rev); err != nil {
				return "", 0
			}
			return payload[:i], rev
		}
	}
	return "", 0
}
