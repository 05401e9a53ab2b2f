package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bizphone/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared across API processes.
//
// Locks are Redis keys taken with SET NX PX; the TTL bounds how long a crashed
// process can hold a resource.
type RedisStore struct {
	rdb    *redis.Client
	prefix string

	// LockTTL bounds a single critical section.
	LockTTL time.Duration
	// LockWait bounds how long Locked waits for a contended key.
	LockWait time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, LockTTL: 5 * time.Second, LockWait: 3 * time.Second}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Load(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("state: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("state: del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Locked(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := s.key("lock:" + key)
	owner := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, s.LockWait)
	err := utils.AcquireLock(waitCtx, s.rdb, lockKey, owner, s.LockTTL, 10*time.Millisecond)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ErrLockTimeout
		}
		return err
	}
	defer func() {
		// Release on a fresh context so a cancelled request does not leak the lock until TTL.
		relCtx, relCancel := context.WithTimeout(context.Background(), time.Second)
		defer relCancel()
		_ = utils.ReleaseLock(relCtx, s.rdb, lockKey, owner)
	}()

	return fn(ctx)
}

var _ Store = (*RedisStore)(nil)
