package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "launchbox:conv:"

// StreamKey returns the Redis stream holding a conversation's events.
func StreamKey(convID string) string { return streamPrefix + convID }

// RedisBus mirrors events onto Redis Streams so other processes can follow
// a conversation.
type RedisBus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewRedisBus connects to redisURL.
func NewRedisBus(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, maxLen: 1000, logger: logger}, nil
}

// Publish appends e to the conversation stream. Failures are logged.
func (b *RedisBus) Publish(ctx context.Context, e *Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("marshal event", zap.Error(err))
		return
	}
	stream := StreamKey(e.ConversationID)
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(e.Type),
			"data": string(data),
		},
	}).Err()
	if err != nil {
		b.logger.Warn("publish event", zap.String("stream", stream), zap.Error(err))
	}
}

// Subscribe follows a conversation stream from "now". Cancel ctx to stop;
// the channel is closed on return.
func (b *RedisBus) Subscribe(ctx context.Context, convID string) <-chan *Event {
	ch := make(chan *Event, 16)
	stream := StreamKey(convID)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Debug("xread", zap.String("stream", stream), zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var e Event
					if json.Unmarshal([]byte(data), &e) != nil {
						continue
					}
					select {
					case ch <- &e:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
