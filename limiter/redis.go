package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the counter and sets the window expiry when the
// increment started a new window. Running as a script makes the
// check-and-expire pair atomic, which closes the admission race a
// separate INCR+EXPIRE would leave open.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisStore is a CounterStore backed by Redis. All instances sharing
// the same Redis see the same windows, so rate limits hold across a
// multi-instance deployment.
type RedisStore struct {
	client redis.UniversalClient
}

var _ CounterStore = (*RedisStore)(nil)

// NewRedisStore creates a CounterStore on top of an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL connects to Redis using a redis:// URL.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Close releases the underlying client's connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
