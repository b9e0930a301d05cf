package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/launchbox/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	snapshotPrefix = "launchbox:snapshot:"
	// indexKey is a sorted set of conversation ids scored by update time.
	indexKey = "launchbox:snapshots"
)

// RedisStore keeps one JSON snapshot per conversation id.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to redisURL. A zero ttl keeps snapshots forever.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis snapshot store connected", zap.String("addr", opts.Addr))
	return &RedisStore{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func snapshotKey(id string) string { return snapshotPrefix + id }

// Save writes the snapshot and indexes it.
func (r *RedisStore) Save(ctx context.Context, snap *session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, snapshotKey(snap.ID), data, r.ttl)
		p.ZAdd(ctx, indexKey, redis.Z{Score: float64(updated.UnixMilli()), Member: snap.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Load reads a snapshot.
func (r *RedisStore) Load(ctx context.Context, id string) (*session.Snapshot, error) {
	data, err := r.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// List returns indexed conversations, most recently updated first. Index
// entries whose snapshot expired are pruned.
func (r *RedisStore) List(ctx context.Context) ([]session.Info, error) {
	ids, err := r.rdb.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = snapshotKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}

	out := make([]session.Info, 0, len(ids))
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var snap session.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			r.logger.Warn("skip undecodable snapshot", zap.String("conversation", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, session.Info{
			ID:           snap.ID,
			Title:        snap.Title,
			MessageCount: len(snap.Messages),
			UpdatedAt:    snap.UpdatedAt,
		})
	}
	if len(stale) > 0 {
		if err := r.rdb.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			r.logger.Warn("prune snapshot index", zap.Error(err))
		}
	}
	return out, nil
}

// Delete removes a snapshot. Unknown ids are not an error.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, snapshotKey(id))
		p.ZRem(ctx, indexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
