package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

var ErrCacheMiss = errors.New("notification not cached")

const (
	keyPrefix  = "notification:"
	revSuffix  = ":rev"
	DefaultTTL = 10 * time.Minute
)

// setIfNotOlder stores the entry unless the cached revision is newer.
// KEYS: data, revision. ARGV: revision, payload, ttl in ms.
const setIfNotOlder = `
local cur = tonumber(redis.call('GET', KEYS[2]))
if cur and cur > tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[3])
return 1
`

type redisClient interface {
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Cache stores serialized notifications in Redis, keyed by id.
//
// Every entry carries the row revision (its last updated_at). A write never
// replaces a newer revision, so a reader that loaded the row before a worker
// changed it cannot put the old status back.
type Cache struct {
	client redisClient
	ttl    time.Duration
}

// New wraps a Redis client. The wbf redis client satisfies redisClient.
// A non-positive ttl means DefaultTTL.
func New(client redisClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{client: client, ttl: ttl}
}

func key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Revision orders the stored versions of one notification.
func Revision(n model.Notification) int64 {
	if n.UpdatedAt != nil {
		return n.UpdatedAt.UnixMicro()
	}

	return n.CreatedAt.UnixMicro()
}

// Get returns the cached notification or ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error) {
	val, err := c.client.GetWithRetry(ctx, strategy, key(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Notification{}, ErrCacheMiss
		}

		return model.Notification{}, fmt.Errorf("get cached notification: %w", err)
	}

	var n model.Notification
	if err := json.Unmarshal([]byte(val), &n); err != nil {
		return model.Notification{}, fmt.Errorf("unmarshal cached notification: %w", err)
	}

	return n, nil
}

// Set caches the notification under its id unless a newer revision is
// already cached.
func (c *Cache) Set(ctx context.Context, strategy retry.Strategy, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if strategy.Attempts < 1 {
		strategy.Attempts = 1
	}

	k := key(n.ID)
	rev := strconv.FormatInt(Revision(n), 10)

	err = retry.Do(func() error {
		return c.client.Eval(ctx, setIfNotOlder, []string{k, k + revSuffix}, rev, string(data), c.ttl.Milliseconds()).Err()
	}, strategy)
	if err != nil {
		return fmt.Errorf("cache notification: %w", err)
	}

	return nil
}

// Disabled is used when no Redis address is configured. Every lookup misses.
type Disabled struct{}

func (Disabled) Get(context.Context, retry.Strategy, uuid.UUID) (model.Notification, error) {
	return model.Notification{}, ErrCacheMiss
}

func (Disabled) Set(context.Context, retry.Strategy, model.Notification) error {
	return nil
}

// Store is satisfied by Cache and Disabled.
type Store interface {
	Get(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error)
	Set(ctx context.Context, strategy retry.Strategy, n model.Notification) error
}
