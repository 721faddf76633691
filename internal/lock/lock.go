// Package lock provides a Redis-backed mutual exclusion lock used to elect
// a single sweeper across service instances.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrNotConfigured = errors.New("lock client not configured")
	ErrEmptyKey      = errors.New("lock key is empty")
	ErrInvalidTTL    = errors.New("lock ttl must be positive")
)

// Redis is a lock held by a random token. Only the holder of the token can
// release it; an abandoned lock expires after its TTL.
type Redis struct {
	client redis.UniversalClient
	script *redis.Script
}

// NewRedis returns nil when client is nil.
func NewRedis(client redis.UniversalClient) *Redis {
	if client == nil {
		return nil
	}
	return &Redis{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

// TryLock attempts to take key for ttl. It returns the holder token and
// whether the lock was acquired.
func (l *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release frees key if it is still held under token.
func (l *Redis) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
