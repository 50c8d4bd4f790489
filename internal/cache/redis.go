package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "soap:page:"

// Redis is a PageCache shared by every replica of the service.  Pages are
// stored as JSON arrays under soap:page:<page>:<size>.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps client.  A ttl of zero keeps pages until evicted.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisKey(key Key) string {
	return keyPrefix + key.String()
}

// Get implements PageCache.
func (r *Redis) Get(ctx context.Context, key Key) ([]string, bool, error) {
	raw, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var notes []string
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil, false, fmt.Errorf("decode cached page %s: %w", key, err)
	}
	return notes, true, nil
}

// Set implements PageCache.
func (r *Redis) Set(ctx context.Context, key Key, notes []string) error {
	raw, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKey(key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Len counts cached pages with SCAN so large keyspaces are not blocked.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return n, nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
