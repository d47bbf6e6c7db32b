// Package redis provides a Redis list-backed queue so several crawler
// processes can share pending runs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// DefaultKey is used when Config.Key is empty.
const DefaultKey = "careers:runs"

// Config controls the list key and how long a single BRPOP blocks.
type Config struct {
	Key         string
	PollTimeout time.Duration
}

// Queue pushes items with LPUSH and pops them with BRPOP, giving FIFO order.
type Queue struct {
	client  redis.Cmdable
	key     string
	timeout time.Duration
}

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// New wraps client.
func New(client redis.Cmdable, cfg Config) *Queue {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	return &Queue{client: client, key: cfg.Key, timeout: cfg.PollTimeout}
}

// Enqueue serializes item as JSON and pushes it onto the list.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, string(data)).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks until an item is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.timeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			return crawler.QueueItem{}, fmt.Errorf("dequeue: %w", err)
		}
		if len(res) != 2 {
			return crawler.QueueItem{}, fmt.Errorf("dequeue: unexpected reply %v", res)
		}
		var item crawler.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}

// Len returns the number of pending items.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
