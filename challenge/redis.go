package challenge

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "challenge:"

// RedisStore is a challenge store backed by Redis. GETDEL makes the
// consume step atomic, so two concurrent verifications of the same
// challenge ID cannot both succeed.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a challenge store on top of an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, keyPrefix+id, data, ttl).Err()
}

func (s *RedisStore) Take(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
