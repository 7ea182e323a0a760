package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	changeKeyPrefix = "change:"
	pendingListKey  = "pending"
	failuresHashKey = "failures"
	statsKey        = "stats"
)

// RedisStore keeps the queue in Redis: change bodies under change:<id>, the
// order in a list and failures in a hash, all below a per-client prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "syncqueue:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += p
	}
	return k
}

func (r *RedisStore) Append(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(changeKeyPrefix, c.ID), data, 0)
	pipe.RPush(ctx, r.key(pendingListKey), c.ID)
	pipe.HIncrBy(ctx, r.key(statsKey), "queued", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue change: %w", err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]Change, error) {
	ids, err := r.client.LRange(ctx, r.key(pendingListKey), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Change, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.key(changeKeyPrefix, id)).Result()
		if errors.Is(err, redis.Nil) {
			// Body missing; drop the stray id.
			log.Warnf("[SyncQueue] dropping change %s without data", id)
			_ = r.client.LRem(ctx, r.key(pendingListKey), 1, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		var c Change
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal change %s: %w", id, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *RedisStore) Update(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ok, err := r.client.SetXX(ctx, r.key(changeKeyPrefix, c.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrChangeNotFound
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.LRem(ctx, r.key(pendingListKey), 1, id)
	pipe.Del(ctx, r.key(changeKeyPrefix, id))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) AddFailure(ctx context.Context, f Failure) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key(failuresHashKey), f.Change.ID, data)
	pipe.HIncrBy(ctx, r.key(statsKey), "failed", 1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Failures(ctx context.Context) ([]Failure, error) {
	all, err := r.client.HGetAll(ctx, r.key(failuresHashKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Failure, 0, len(all))
	for id, raw := range all {
		var f Failure
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			log.Warnf("[SyncQueue] unreadable failure %s: %v", id, err)
			continue
		}
		out = append(out, f)
	}
	sortFailures(out)
	return out, nil
}

func (r *RedisStore) DismissFailure(ctx context.Context, id string) error {
	return r.client.HDel(ctx, r.key(failuresHashKey), id).Err()
}

// Stats returns the lifetime counters kept next to the queue.
func (r *RedisStore) Stats(ctx context.Context) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, r.key(statsKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := json.Number(v).Int64(); err == nil {
			out[k] = n
		}
	}
	return out, nil
}

func (r *RedisStore) Close() error { return nil }
