package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store implementation.
//
// Layout under the key prefix (default "convograph:thread:"):
//   - <prefix><threadID>        checkpoint JSON
//   - <prefix><threadID>:steps  hash of step number -> step record JSON
//   - <prefix>index             sorted set of thread IDs scored by expiry
type RedisStore[S any] struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
}

// WithRedisPrefix sets the key prefix for threads.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithRedisTTL expires idle threads after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) {
		c.ttl = ttl
	}
}

// NewRedisStore connects to a Redis server.
func NewRedisStore[S any](addr, password string, db int, opts ...RedisOption) *RedisStore[S] {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient[S](client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient[S any](client *backend.Client, opts ...RedisOption) *RedisStore[S] {
	cfg := redisConfig{prefix: "convograph:thread:"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore[S]{client: client, prefix: cfg.prefix, ttl: cfg.ttl}
}

func (r *RedisStore[S]) key(threadID string) string {
	return r.prefix + threadID
}

func (r *RedisStore[S]) stepsKey(threadID string) string {
	return r.prefix + threadID + ":steps"
}

func (r *RedisStore[S]) indexKey() string {
	return r.prefix + "index"
}

// SaveCheckpoint implements Store.
func (r *RedisStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	cp.UpdatedAt = updatedAt(cp.UpdatedAt)
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	score := float64(time.Now().Add(r.ttl).Unix())
	if r.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(cp.ThreadID), data, r.ttl)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.stepsKey(cp.ThreadID), r.ttl)
	}
	pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: score, Member: cp.ThreadID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// LoadCheckpoint implements Store.
func (r *RedisStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	val, err := r.client.Get(ctx, r.key(threadID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to get checkpoint from redis: %w", err)
	}

	var cp Checkpoint[S]
	if err := json.Unmarshal(val, &cp); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// SaveStep implements Store.
func (r *RedisStore[S]) SaveStep(ctx context.Context, threadID string, rec StepRecord[S]) error {
	rec.CreatedAt = updatedAt(rec.CreatedAt)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	if err := r.client.HSet(ctx, r.stepsKey(threadID), fmt.Sprintf("%d", rec.Step), data).Err(); err != nil {
		return fmt.Errorf("failed to save step to redis: %w", err)
	}
	return nil
}

// ListSteps implements Store.
func (r *RedisStore[S]) ListSteps(ctx context.Context, threadID string) ([]StepRecord[S], error) {
	vals, err := r.client.HVals(ctx, r.stepsKey(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list steps from redis: %w", err)
	}

	records := make([]StepRecord[S], 0, len(vals))
	for _, v := range vals {
		var rec StepRecord[S]
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step: %w", err)
		}
		records = append(records, rec)
	}
	sortSteps(records)
	return records, nil
}

// Threads returns the IDs of live threads, dropping expired index entries.
func (r *RedisStore[S]) Threads(ctx context.Context) ([]string, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	if err := r.client.ZRemRangeByScore(ctx, r.indexKey(), "-inf", "("+now).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune thread index: %w", err)
	}

	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return ids, nil
}

// Delete removes a thread and its history. The engine never calls it; thread
// lifecycle belongs to the caller.
func (r *RedisStore[S]) Delete(ctx context.Context, threadID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(threadID), r.stepsKey(threadID))
	pipe.ZRem(ctx, r.indexKey(), threadID)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the underlying client.
func (r *RedisStore[S]) Close() error {
	return r.client.Close()
}
