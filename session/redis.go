package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bankchat/bankchat-go/bankchat"
)

// RedisStore persists sessions in Redis so multiple service instances share
// conversation state.
//
// Data layout:
//   - Key "{prefix}:session:{id}" holds the session JSON, with TTL.
//   - Sorted set "{prefix}:index" tracks session ids scored by creation
//     time, for listing and FIFO capacity eviction.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	capacity int
	ttl      time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL and returns a store. ttl of zero means
// sessions never expire on their own; capacity eviction still applies.
func NewRedisStore(redisURL, prefix string, capacity int, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if prefix == "" {
		prefix = "bankchat"
	}
	if capacity <= 0 {
		capacity = 100
	}
	return &RedisStore{
		client:   redis.NewClient(opts),
		prefix:   prefix,
		capacity: capacity,
		ttl:      ttl,
	}, nil
}

func (r *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, id)
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":index"
}

// Get returns the session or bankchat.ErrSessionNotFound.
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, bankchat.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return &s, nil
}

// GetOrCreate returns the session, creating it if absent.
func (r *RedisStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	s, err := r.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, bankchat.ErrSessionNotFound) {
		return nil, err
	}

	s = New(id)
	if err := r.Put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Put stores the session and evicts the oldest ones beyond capacity.
func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("serialize session %s: %w", s.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(s.ID), data, r.ttl)
	pipe.ZAddNX(ctx, r.indexKey(), redis.Z{
		Score:  float64(s.CreatedAt.UnixNano()),
		Member: s.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return r.evict(ctx)
}

// evict drops the oldest sessions until the index fits the capacity.
func (r *RedisStore) evict(ctx context.Context) error {
	total, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("redis zcard: %w", err)
	}
	excess := total - int64(r.capacity)
	if excess <= 0 {
		return nil
	}

	oldest, err := r.client.ZRange(ctx, r.indexKey(), 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("redis zrange: %w", err)
	}
	pipe := r.client.TxPipeline()
	for _, id := range oldest {
		pipe.Del(ctx, r.sessionKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis evict: %w", err)
	}
	return nil
}

// Delete removes the session; deleting an unknown id is not an error.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id))
	pipe.ZRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// List returns summaries for every indexed session, most recently updated
// first. Sessions expired by TTL but still indexed are skipped and cleaned.
func (r *RedisStore) List(ctx context.Context) ([]Summary, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}

	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, bankchat.ErrSessionNotFound) {
			r.client.ZRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s.Summarize())
	}
	return summaries, nil
}

// Count returns the number of indexed sessions.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	total, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(total), nil
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
