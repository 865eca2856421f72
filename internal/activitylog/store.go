package activitylog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pressfolio/activity-channel/internal/config"
	"github.com/pressfolio/activity-channel/internal/event"
)

// ErrAppendFailed wraps any store-side append failure.
var ErrAppendFailed = errors.New("activity log append failed")

// Store is the append side of the activity log contract.
type Store interface {
	// Append durably records the event and returns the store-assigned,
	// time-ordered key.
	Append(ctx context.Context, ev event.ActivityEvent) (string, error)
}

// Reader is the consume side, used by the archiver.
type Reader interface {
	// ReadFrom returns entries with keys strictly after lastID, blocking up
	// to block for new entries (block < 0 = return immediately).
	ReadFrom(ctx context.Context, lastID string, count int64, block time.Duration) ([]Entry, error)
}

// Entry is one persisted event with its store-assigned key.
type Entry struct {
	ID    string
	Event event.ActivityEvent
}

// RedisLog implements Store and Reader over a Redis stream.
type RedisLog struct {
	client *redis.Client
	stream string
	maxLen int64
}

// New creates a RedisLog from config. The connection is lazy; call Ping to
// verify reachability.
func New(cfg config.ActivityLogConfig) *RedisLog {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisLog{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}
}

// NewWithClient wraps an existing client. For tests.
func NewWithClient(client *redis.Client, stream string) *RedisLog {
	return &RedisLog{client: client, stream: stream}
}

// Append records the event with XADD; the returned stream ID is the
// append key.
func (l *RedisLog) Append(ctx context.Context, ev event.ActivityEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("%w: marshal event: %w", ErrAppendFailed, err)
	}

	args := &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]any{
			"event": string(data),
			"type":  ev.ActivityType,
		},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}

	id, err := l.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}
	return id, nil
}

// ReadFrom reads entries after lastID. Entries whose event field fails to
// decode are skipped; the stream may be shared with other producers.
func (l *RedisLog) ReadFrom(ctx context.Context, lastID string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{l.stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read activity stream: %w", err)
	}

	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			raw, ok := msg.Values["event"].(string)
			if !ok {
				continue
			}
			var ev event.ActivityEvent
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				continue
			}
			entries = append(entries, Entry{ID: msg.ID, Event: ev})
		}
	}
	return entries, nil
}

// Ping verifies the store is reachable.
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (l *RedisLog) Close() error {
	return l.client.Close()
}
