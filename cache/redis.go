// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is an optional remote tier for the call-result namespace.
// Values are JSON-encoded. It exposes the same Get/Set/Delete surface as
// the in-memory store so the gateway can use either interchangeably for
// results shared across engine replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to the given Redis address and verifies the
// connection with a ping.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client, prefix: "nexus:result"}, nil
}

func (r *RedisCache) key(k string) string { return r.prefix + ":" + k }

// Get fetches and decodes the value stored under k. The second return is
// false on miss or decode failure.
func (r *RedisCache) Get(ctx context.Context, k string, out interface{}) bool {
	data, err := r.client.Get(ctx, r.key(k)).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		// A corrupt entry is treated as a miss and removed.
		r.client.Del(ctx, r.key(k))
		return false
	}
	return true
}

// Set encodes v and stores it under k with the given TTL.
func (r *RedisCache) Set(ctx context.Context, k string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return r.client.Set(ctx, r.key(k), data, ttl).Err()
}

// Delete removes k.
func (r *RedisCache) Delete(ctx context.Context, k string) error {
	return r.client.Del(ctx, r.key(k)).Err()
}

// Close releases the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
