// Package queue implements the Redis list-based FIFO queue protocol: typed
// blocking pop over named queues, head/tail push, and delayed-retry
// visibility, per spec.md §4.1.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tsuchiya2/storypipe/internal/job"
)

// ErrTimeout is returned by PopBlocking when no queue yielded a message
// before the timeout elapsed.
var ErrTimeout = errors.New("queue: pop timed out")

// Queue wraps a *redis.Client with the push/pop primitives the pipeline
// needs. It is safe for concurrent use (the underlying client is).
type Queue struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New constructs a Queue from a Redis connection URL (e.g.
// redis://host:6379/0), matching the "parse URL, build client, ping" shape
// reconstructed from jordigilh-kubernaut's redis_client_test.go.
func New(ctx context.Context, redisURL string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	q := &Queue{rdb: rdb, logger: logger}
	if err := q.EnsureConnection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// NewFromClient wraps an already-constructed client, used by tests against
// miniredis.
func NewFromClient(rdb *redis.Client, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{rdb: rdb, logger: logger}
}

// EnsureConnection pings Redis, surfacing a setup failure the caller should
// treat as exit code 1 per spec.md §6.
func (q *Queue) EnsureConnection(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("queue: redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// PopBlocking issues BLPOP across queues in the given order; the first
// non-empty queue wins. A parse failure on the popped payload is NOT
// performed here (callers decode against their own envelope shape); instead
// PopBlocking returns the raw payload and lets the caller classify poisoned
// messages via job.Unmarshal.
func (q *Queue) PopBlocking(ctx context.Context, queues []string, timeout time.Duration) (queueName string, payload []byte, err error) {
	res, err := q.rdb.BLPop(ctx, timeout, queues...).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, ErrTimeout
	}
	if err != nil {
		return "", nil, fmt.Errorf("queue: pop_blocking: %w", err)
	}
	// BLPOP reply is [key, value].
	if len(res) != 2 {
		return "", nil, fmt.Errorf("queue: pop_blocking: unexpected reply shape %v", res)
	}
	return res[0], []byte(res[1]), nil
}

// PushHead left-pushes payload onto queue (LPUSH): next to be served by
// PopBlocking, used for priority/output routing per spec.md §4.1.
func (q *Queue) PushHead(ctx context.Context, queue string, payload []byte) error {
	if err := q.rdb.LPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("queue: push_head %s: %w", queue, err)
	}
	return nil
}

// PushTail right-pushes payload onto queue (RPUSH): served last (FIFO),
// used for retry queues.
func (q *Queue) PushTail(ctx context.Context, queue string, payload []byte) error {
	if err := q.rdb.RPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("queue: push_tail %s: %w", queue, err)
	}
	return nil
}

// PushJSON marshals v and tail-pushes it; a convenience wrapper over the
// common "enqueue a job struct" call site.
func (q *Queue) PushTailJSON(ctx context.Context, queue string, v interface{}) error {
	b, err := job.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: marshal for %s: %w", queue, err)
	}
	return q.PushTail(ctx, queue, b)
}

// PushHeadJSON marshals v and head-pushes it.
func (q *Queue) PushHeadJSON(ctx context.Context, queue string, v interface{}) error {
	b, err := job.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: marshal for %s: %w", queue, err)
	}
	return q.PushHead(ctx, queue, b)
}

// RequeueIfNotVisible implements the caller-managed visibility delay: if
// visibleAtMs is in the future, the payload is re-pushed to the tail of
// queue and the pop is treated as a miss. Returns true if it requeued.
func (q *Queue) RequeueIfNotVisible(ctx context.Context, queue string, payload []byte, visibleAtMs int64) (bool, error) {
	if visibleAtMs <= nowMs() {
		return false, nil
	}
	if err := q.PushTail(ctx, queue, payload); err != nil {
		return false, err
	}
	return true, nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
