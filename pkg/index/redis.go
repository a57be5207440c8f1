// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/network"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "basins3:index:",
		TTL:       10 * time.Minute,
	}
}

// RedisStore shares index entries between gateway instances. Every entry
// carries the configured TTL so entries written by other gateways age out.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg), nil
}

// NewRedisStoreWithClient creates a store over an existing client.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	return &RedisStore{client: client, cfg: cfg}
}

func (r *RedisStore) bucketKey(key string) string {
	return r.cfg.KeyPrefix + "bucket:" + key
}

func (r *RedisStore) objectKey(ns network.Address, key string) string {
	return r.cfg.KeyPrefix + "object:" + objectKey(ns, key)
}

// membersKey is the set of object entry keys of one namespace.
func (r *RedisStore) membersKey(ns network.Address) string {
	return r.cfg.KeyPrefix + "members:" + ns.Hex()
}

func (r *RedisStore) get(ctx context.Context, key string, v any) (bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode index entry %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisStore) Bucket(ctx context.Context, key string) (backend.BucketInfo, bool, error) {
	var b backend.BucketInfo
	ok, err := r.get(ctx, r.bucketKey(key), &b)
	return b, ok, err
}

func (r *RedisStore) SetBucket(ctx context.Context, key string, b backend.BucketInfo) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.bucketKey(key), data, r.cfg.TTL).Err()
}

func (r *RedisStore) DeleteBucket(ctx context.Context, key string, ns network.Address) error {
	if err := r.client.Del(ctx, r.bucketKey(key)).Err(); err != nil {
		return err
	}
	if ns == (network.Address{}) {
		return nil
	}
	members, err := r.client.SMembers(ctx, r.membersKey(ns)).Result()
	if err != nil {
		return err
	}
	keys := append(members, r.membersKey(ns))
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) Object(ctx context.Context, ns network.Address, key string) (backend.ObjectInfo, bool, error) {
	var o backend.ObjectInfo
	ok, err := r.get(ctx, r.objectKey(ns, key), &o)
	return o, ok, err
}

// maxWatchRetries bounds optimistic SetObject transactions that lose a race.
const maxWatchRetries = 5

func (r *RedisStore) SetObject(ctx context.Context, ns network.Address, o backend.ObjectInfo) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	key := r.objectKey(ns, o.Key)

	// An entry of a later commit is never replaced, even by another gateway.
	set := func(tx *redis.Tx) error {
		var cur backend.ObjectInfo
		b, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case json.Unmarshal(b, &cur) == nil && cur.Height > o.Height:
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, r.cfg.TTL)
			p.SAdd(ctx, r.membersKey(ns), key)
			if r.cfg.TTL > 0 {
				p.Expire(ctx, r.membersKey(ns), r.cfg.TTL)
			}
			return nil
		})
		return err
	}
	for i := 0; i < maxWatchRetries; i++ {
		err = r.client.Watch(ctx, set, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (r *RedisStore) DeleteObject(ctx context.Context, ns network.Address, key string) error {
	k := r.objectKey(ns, key)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.SRem(ctx, r.membersKey(ns), k)
		return nil
	})
	return err
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
