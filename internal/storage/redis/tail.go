// Package redis keeps the capped ledger tail in Redis lists.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// Config holds Redis connection settings for the tail.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires idle project lists; zero keeps them forever.
	TTL time.Duration
}

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

const (
	connectionTimeout = 5 * time.Second
	defaultKeyPrefix  = "terracrawler"
	defaultCapacity   = 999
)

// NewClient connects and pings Redis.
func NewClient(cfg Config) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrEmptyAddress
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Tail stores the newest events of each project in a trimmed list.
type Tail struct {
	client   goredis.UniversalClient
	prefix   string
	capacity int
	ttl      time.Duration
}

// NewTail wraps client. A non-positive capacity defaults to 999.
func NewTail(client goredis.UniversalClient, cfg Config, capacity int) (*Tail, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Tail{client: client, prefix: prefix, capacity: capacity, ttl: cfg.TTL}, nil
}

func (t *Tail) key(projectID string) string {
	return t.prefix + ":tail:" + projectID
}

// Push prepends the event and trims the list to capacity in one pipeline.
func (t *Tail) Push(ctx context.Context, event crawl.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := t.key(event.ProjectID)
	pipe := t.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(t.capacity-1))
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push tail %s: %w", key, err)
	}
	return nil
}

// Recent returns up to limit events newest-first.
func (t *Tail) Recent(ctx context.Context, projectID string, limit int) ([]crawl.Event, error) {
	if limit <= 0 || limit > t.capacity {
		limit = t.capacity
	}
	raw, err := t.client.LRange(ctx, t.key(projectID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}
	out := make([]crawl.Event, 0, len(raw))
	for _, item := range raw {
		var event crawl.Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("decode tail event: %w", err)
		}
		out = append(out, event)
	}
	return out, nil
}

// Reset deletes the project's list.
func (t *Tail) Reset(ctx context.Context, projectID string) error {
	key := t.key(projectID)
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset tail %s: %w", key, err)
	}
	return nil
}

// Capacity returns the per-project bound.
func (t *Tail) Capacity() int {
	return t.capacity
}
