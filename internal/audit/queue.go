package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrQueueBackend wraps Redis failures on the audit queue.
var ErrQueueBackend = errors.New("audit queue backend unavailable")

// Queue is the durable buffer between enqueue and the flush worker: a Redis
// list appended on the right, drained from the left. Producers and the
// worker never contend because the worker only trims entries it has already
// read; entries appended mid-drain wait for the next tick.
type Queue struct {
	redis redis.UniversalClient
	key   string
}

func NewQueue(redisClient redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = "gk:auditq"
	}
	return &Queue{
		redis: redisClient,
		key:   key,
	}
}

// Enqueue appends entries to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	if err := q.redis.RPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueBackend, err)
	}
	return nil
}

// Peek reads up to max entries from the head without removing them. Corrupt
// payloads are skipped but still counted so Trim removes them.
func (q *Queue) Peek(ctx context.Context, max int) ([]Entry, int, error) {
	if max <= 0 {
		return nil, 0, nil
	}
	raw, err := q.redis.LRange(ctx, q.key, 0, int64(max-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrQueueBackend, err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, len(raw), nil
}

// Trim removes the first n entries, i.e. exactly the ones a preceding Peek
// returned.
func (q *Queue) Trim(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if err := q.redis.LTrim(ctx, q.key, int64(n), -1).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueBackend, err)
	}
	return nil
}

// Len returns the number of waiting entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueueBackend, err)
	}
	return n, nil
}
