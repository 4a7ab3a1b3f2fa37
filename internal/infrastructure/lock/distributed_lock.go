package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis lock: acquire with SET key value NX EX ttl; release with a Lua
// compare-and-delete so an expired holder never deletes the next holder's lock.

var ErrLockFailed = errors.New("lock is held by another owner")

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

type DistributedLock struct {
	client     redis.Cmdable
	key        string
	value      string // owner token
	expiration time.Duration
}

func NewDistributedLock(client redis.Cmdable, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock is non-blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// RedisLocker hands out single-attempt locks with a fresh owner token each time.
type RedisLocker struct {
	client redis.Cmdable
}

func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire returns ErrLockFailed when key is already held.
func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l := NewDistributedLock(r.client, key, uuid.NewString(), ttl)
	ok, err := l.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockFailed
	}
	return l.Unlock, nil
}
