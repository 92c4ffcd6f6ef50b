package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes key only if its value still matches the caller's
// owner token — a compare-and-delete that plain GET+DEL cannot express
// atomically, expressed as a single Lua script in the
// kernel/limiter_redis.go idiom.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisStore implements Store using SET key value NX PX for acquisition and
// a compare-and-delete script for release.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Acquire(ctx context.Context, key, ownerID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, ownerID, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key, ownerID string) error {
	_, err := releaseScript.Run(ctx, s.client, []string{key}, ownerID).Result()
	// redis.Nil is returned when the script returns nothing; a 0 result
	// (no-op, lock not owned or already expired) is not an error.
	if err == redis.Nil {
		return nil
	}
	return err
}
