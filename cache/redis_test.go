// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return rc, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx := context.Background()

	type result struct {
		Content string `json:"content"`
		Cached  bool   `json:"cached"`
	}

	err := rc.Set(ctx, "call1", result{Content: "bucket listing"}, time.Minute)
	require.NoError(t, err)

	var got result
	require.True(t, rc.Get(ctx, "call1", &got))
	require.Equal(t, "bucket listing", got.Content)
}

func TestRedisCacheMiss(t *testing.T) {
	rc, _ := newTestRedis(t)

	var got map[string]interface{}
	require.False(t, rc.Get(context.Background(), "absent", &got))
}

func TestRedisCacheDelete(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, rc.Delete(ctx, "k"))

	var got string
	require.False(t, rc.Get(ctx, "k", &got))
}

func TestRedisCacheExpiry(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	var got string
	require.False(t, rc.Get(ctx, "k", &got))
}

func TestRedisCacheCorruptEntryTreatedAsMiss(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("nexus:result:bad", "{not json"))

	var got map[string]interface{}
	require.False(t, rc.Get(ctx, "bad", &got))
	// The corrupt entry is removed so the next write starts clean.
	require.False(t, mr.Exists("nexus:result:bad"))
}
