// Package presence counts live sessions per user across nodes.
package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker reports the first and last live session of a user.
type Tracker interface {
	Connect(ctx context.Context, userID int, connID string) (first bool, err error)
	Disconnect(ctx context.Context, userID int, connID string) (last bool, err error)
	Touch(ctx context.Context, userID int, connID string) error
	Online(ctx context.Context, userID int) (bool, error)
}

// MemoryTracker is the single-node tracker.
type MemoryTracker struct {
	mu    sync.Mutex
	users map[int]map[string]struct{}
}

// NewMemoryTracker returns an empty MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{users: make(map[int]map[string]struct{})}
}

func (t *MemoryTracker) Connect(ctx context.Context, userID int, connID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns, ok := t.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		t.users[userID] = conns
	}
	_, dup := conns[connID]
	conns[connID] = struct{}{}
	return !dup && len(conns) == 1, nil
}

func (t *MemoryTracker) Disconnect(ctx context.Context, userID int, connID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns, ok := t.users[userID]
	if !ok {
		return false, nil
	}
	if _, ok := conns[connID]; !ok {
		return false, nil
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(t.users, userID)
		return true, nil
	}
	return false, nil
}

func (t *MemoryTracker) Touch(ctx context.Context, userID int, connID string) error {
	return nil
}

func (t *MemoryTracker) Online(ctx context.Context, userID int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users[userID]) > 0, nil
}

// KEYS[1] = user session zset, ARGV = member, now, expireAt, ttlSeconds
var connectScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local added = redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[4])
if added == 1 and redis.call("ZCARD", KEYS[1]) == 1 then
  return 1
end
return 0
`)

// KEYS[1] = user session zset, ARGV = member, now
var disconnectScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local n = redis.call("ZCARD", KEYS[1])
if n == 0 then
  redis.call("DEL", KEYS[1])
end
if removed == 1 and n == 0 then
  return 1
end
return 0
`)

// RedisTracker keeps one sorted set per user: member = connection id,
// score = expiry. Sessions of a crashed node age out after ttl.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisTracker returns a tracker whose entries expire after ttl without Touch.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, ttl: ttl, now: time.Now}
}

func userKey(userID int) string {
	return "presence:u:" + strconv.Itoa(userID)
}

func (t *RedisTracker) Connect(ctx context.Context, userID int, connID string) (bool, error) {
	now := t.now()
	n, err := connectScript.Run(ctx, t.client, []string{userKey(userID)},
		connID, now.Unix(), now.Add(t.ttl).Unix(), int(t.ttl.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *RedisTracker) Disconnect(ctx context.Context, userID int, connID string) (bool, error) {
	n, err := disconnectScript.Run(ctx, t.client, []string{userKey(userID)}, connID, t.now().Unix()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *RedisTracker) Touch(ctx context.Context, userID int, connID string) error {
	now := t.now()
	key := userKey(userID)
	pipe := t.client.TxPipeline()
	pipe.ZAddXX(ctx, key, redis.Z{Score: float64(now.Add(t.ttl).Unix()), Member: connID})
	pipe.Expire(ctx, key, t.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Online(ctx context.Context, userID int) (bool, error) {
	n, err := t.client.ZCount(ctx, userKey(userID), strconv.FormatInt(t.now().Unix(), 10), "+inf").Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
