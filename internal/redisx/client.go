package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Claim: SETNX atomik. true = caller yang pertama, boleh proses.
func Claim(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// RememberOrder menyimpan idempotency key -> order id. Kalau key sudah dipakai
// order lain, return order id yang lama.
func RememberOrder(ctx context.Context, rdb *redis.Client, idemKey, orderID string) (string, error) {
	key := fmt.Sprintf(KeyIdemOrderCreate, idemKey)
	ok, err := rdb.SetNX(ctx, key, orderID, TTLIdempotency).Result()
	if err != nil || ok {
		return orderID, err
	}
	return rdb.Get(ctx, key).Result()
}

// LookupOrder: order id untuk idempotency key, "" kalau belum ada.
func LookupOrder(ctx context.Context, rdb *redis.Client, idemKey string) (string, error) {
	id, err := rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, idemKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

type statusEntry struct {
	Status string `json:"status"`
}

func CacheStatus(ctx context.Context, rdb *redis.Client, orderID, status string) error {
	b, _ := json.Marshal(statusEntry{Status: status})
	return rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// CachedStatus: ("", false, nil) kalau cache miss.
func CachedStatus(ctx context.Context, rdb *redis.Client, orderID string) (string, bool, error) {
	s, err := rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var e statusEntry
	if err := json.Unmarshal([]byte(s), &e); err != nil || e.Status == "" {
		return "", false, nil
	}
	return e.Status, true, nil
}

func InvalidateStatus(ctx context.Context, rdb *redis.Client, orderIDs ...string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	keys := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		keys[i] = fmt.Sprintf(KeyOrderStatus, id)
	}
	return rdb.Del(ctx, keys...).Err()
}
