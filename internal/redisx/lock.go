package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker serializes mutations of one entity across processes.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	}
}

// Lock obtains lock:{kind}:{id}. The returned func releases it.
// ErrBusy is returned when another holder keeps it past the retries.
func (l *Locker) Lock(ctx context.Context, kind, id string) (func(), error) {
	key := fmt.Sprintf(KeyLock, kind, id)
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, errs.Invalid(errs.ErrBusy, "%s %s", kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}
