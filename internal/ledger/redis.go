package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyike/SentiTrader/internal/models"
)

const defaultRedisKey = "sentitrader:ledger"

// Redis keeps the ledger in one hash: field post id, value the JSON entry.
type Redis struct {
	client *redis.Client
	key    string
	closed atomic.Bool
}

func OpenRedis(ctx context.Context, opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.RedisAddr, err)
	}
	return NewRedis(client, opts.RedisKey), nil
}

// NewRedis wraps an existing client. An empty key selects the default hash.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Exists(ctx context.Context, postID string) (bool, error) {
	if r.closed.Load() {
		return false, ErrClosed
	}
	ok, err := r.client.HExists(ctx, r.key, postID).Result()
	if err != nil {
		return false, fmt.Errorf("hexists %s: %w", postID, err)
	}
	return ok, nil
}

func (r *Redis) Record(ctx context.Context, entry models.LedgerEntry) (bool, error) {
	if r.closed.Load() {
		return false, ErrClosed
	}
	entry.ProcessedAt = entry.ProcessedAt.UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode entry: %w", err)
	}
	inserted, err := r.client.HSetNX(ctx, r.key, entry.PostID, data).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx %s: %w", entry.PostID, err)
	}
	return inserted, nil
}

func (r *Redis) Entries(ctx context.Context) ([]models.LedgerEntry, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}

	out := make([]models.LedgerEntry, 0, len(all))
	for id, raw := range all {
		var e models.LedgerEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", id, err)
		}
		e.PostID = id
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (r *Redis) Prune(ctx context.Context, before time.Time) (int, error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, e := range entries {
		if e.ProcessedAt.Before(before) {
			stale = append(stale, e.PostID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := r.client.HDel(ctx, r.key, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("hdel: %w", err)
	}
	return int(n), nil
}

func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
