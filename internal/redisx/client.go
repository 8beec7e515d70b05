package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Available reports whether the server answers a PING within a second.
func Available(ctx context.Context, rdb *redis.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err() == nil
}

// MarkOnce sets a dedup key and reports whether this call was the first.
func MarkOnce(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
}

// Forget removes a dedup key so a failed event can be retried.
func Forget(ctx context.Context, rdb *redis.Client, service, id string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}

type cachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheStatus stores the latest status of an order for fast reads.
func CacheStatus(ctx context.Context, rdb *redis.Client, orderID, status string) error {
	b, err := json.Marshal(cachedStatus{Status: status, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// CachedStatus returns the raw cached JSON, or "" on a miss.
func CachedStatus(ctx context.Context, rdb *redis.Client, orderID string) (string, error) {
	s, err := rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return s, err
}

// Dedup marks processed event ids for one consumer service.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) MarkOnce(ctx context.Context, eventID string) (bool, error) {
	return MarkOnce(ctx, d.rdb, d.service, eventID)
}

func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return Forget(ctx, d.rdb, d.service, eventID)
}
