// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists entries in Redis: a sorted set keeps insertion order
// and a hash holds the serialized entries.
type RedisBackend struct {
	client   *redis.Client
	seqKey   string
	orderKey string
	dataKey  string
	owned    bool
}

// NewRedisBackend uses an existing client. The caller keeps ownership of it.
func NewRedisBackend(client *redis.Client, keyPrefix string) *RedisBackend {
	return &RedisBackend{
		client:   client,
		seqKey:   keyPrefix + ":seq",
		orderKey: keyPrefix + ":order",
		dataKey:  keyPrefix + ":entries",
	}
}

// OpenRedisBackend connects to the Redis server at url and verifies the connection.
func OpenRedisBackend(ctx context.Context, url, keyPrefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	b := NewRedisBackend(client, keyPrefix)
	b.owned = true
	return b, nil
}

func (b *RedisBackend) Load(ctx context.Context) ([]Entry, error) {
	ids, err := b.client.ZRange(ctx, b.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := b.client.HMGet(ctx, b.dataKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback entries: %w", err)
	}

	out := make([]Entry, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // order entry without payload, removed concurrently
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode fallback entry %s: %w", ids[i], err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *RedisBackend) Put(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode fallback entry: %w", err)
	}
	seq, err := b.client.Incr(ctx, b.seqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate fallback sequence: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, b.orderKey, redis.Z{Score: float64(seq), Member: entry.ID})
		pipe.HSet(ctx, b.dataKey, entry.ID, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write fallback entry: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.orderKey, id)
		removed = pipe.HDel(ctx, b.dataKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete fallback entry: %w", err)
	}
	if removed.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *RedisBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

func (b *RedisBackend) Name() string { return "redis" }
