package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisUpdateRetries bounds the optimistic transaction loop in Update.
const redisUpdateRetries = 16

// Redis is a Store backed by a Redis instance. Documents are plain string
// values under a configurable key prefix; Update uses WATCH-guarded
// transactions so the read-modify-write is atomic per path.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. prefix namespaces all documents and may
// be empty.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// OpenRedis connects using a redis:// URL or a bare host:port address.
func OpenRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	var client *redis.Client
	if opt, err := redis.ParseURL(url); err == nil {
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) key(path string) string { return r.prefix + path }

func (r *Redis) Get(ctx context.Context, path string, out any) error {
	raw, err := r.client.Get(ctx, r.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", path, err)
	}
	return decode(raw, out)
}

func (r *Redis) Set(ctx context.Context, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(path), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", path, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	if err := r.client.Del(ctx, r.key(path)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", path, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	match := r.key(prefix) + "*"
	iter := r.client.Scan(ctx, 0, match, 256).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		raw, err := r.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", k, err)
		}
		out[strings.TrimPrefix(k, r.prefix)] = raw
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	return out, nil
}

// Update runs fn inside a WATCH transaction and retries on contention.
// Errors returned by fn abort without writing and propagate unchanged.
func (r *Redis) Update(ctx context.Context, path string, fn UpdateFunc) error {
	key := r.key(path)
	txn := func(tx *redis.Tx) error {
		var current json.RawMessage
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// leave current nil
		case err != nil:
			return fmt.Errorf("redis get %s: %w", path, err)
		default:
			current = raw
		}
		updated, err := fn(current)
		if err != nil {
			return err
		}
		out, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// Close releases the underlying client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
