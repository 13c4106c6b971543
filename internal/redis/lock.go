package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("provider booking lock not acquired")
)

// Locker guards the booking critical section. Writes for the same provider
// are serialized per UTC calendar day; callers pass every day the
// buffer-adjusted interval touches, so writers on either side of a midnight
// boundary still contend on a shared key.
type Locker interface {
	WithProviderLock(ctx context.Context, providerID uuid.UUID, days []string, fn func(ctx context.Context) error) error
}

type redisProviderLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisProviderLocker creates a locker keyed on provider + calendar day.
func NewRedisProviderLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisProviderLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisProviderLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, days []string, fn func(ctx context.Context) error) error {
	if len(days) == 0 {
		return errors.New("at least one lock day is required")
	}
	token := uuid.NewString()

	// Acquire in sorted key order so two callers locking overlapping day
	// sets cannot deadlock.
	sorted := append([]string(nil), days...)
	sort.Strings(sorted)

	var held []string
	defer func() {
		for _, key := range held {
			_ = l.release(ctx, key, token)
		}
	}()

	prev := ""
	for _, day := range sorted {
		if day == prev {
			continue
		}
		prev = day

		key := fmt.Sprintf("lock:provider:%s:day:%s", providerID.String(), day)
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire provider lock: %w", err)
		}
		if !ok {
			return ErrLockNotAcquired
		}
		held = append(held, key)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisProviderLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release provider lock: %w", err)
	}
	return nil
}

// NoopLocker runs the critical section directly. Used by tests, where the
// in-memory store's single transaction mutex already serializes writers.
type NoopLocker struct{}

func (NoopLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, days []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
