package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/tsuchiya2/storypipe/internal/job"
	"github.com/tsuchiya2/storypipe/internal/queue"
)

// DefaultMaxRetries is the dispatcher's MAX_RETRIES default per spec.md §6.
const DefaultMaxRetries = 5

// pollTimeout is the fixed 5-second blocking pop per spec.md §4.8.
const pollTimeout = 5 * time.Second

// Dispatcher is the single-threaded per-process poller over the fixed
// TaskKind queue set.
type Dispatcher struct {
	q          *queue.Queue
	handlers   map[TaskKind]Handler
	maxRetries int
	logger     *slog.Logger
	metrics    *Metrics
}

// New constructs a Dispatcher. handlers need not cover every TaskKind; an
// absent handler behaves like an unregistered queue name (logged, no
// requeue) so a binary can run a subset of task kinds.
func New(q *queue.Queue, handlers map[TaskKind]Handler, maxRetries int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Dispatcher{
		q:          q,
		handlers:   handlers,
		maxRetries: maxRetries,
		logger:     logger,
		metrics:    NewMetrics(),
	}
}

// Run polls the queue set until ctx is cancelled. Per spec.md §5's
// cooperative-shutdown rule, it finishes the in-flight job before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	queueNames := make([]string, len(QueueOrder))
	for i, k := range QueueOrder {
		queueNames[i] = string(k)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		queueName, payload, err := d.q.PopBlocking(ctx, queueNames, pollTimeout)
		if errors.Is(err, queue.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("dispatch: pop failed", slog.Any("error", err))
			continue
		}

		d.dispatch(ctx, TaskKind(queueName), payload)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, kind TaskKind, raw []byte) {
	handler, ok := d.handlers[kind]
	if !ok {
		d.logger.Warn("dispatch: unknown queue, discarding", slog.String("queue", string(kind)))
		d.metrics.RecordDiscarded(string(kind))
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.dlq(ctx, kind, job.DLQEntry{
			Reason:   "bad_payload",
			Err:      err.Error(),
			Payload:  raw,
			FailedAt: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	start := time.Now()
	result, err := handler(ctx, env.Payload)
	d.metrics.RecordHandlerDuration(string(kind), time.Since(start))

	if err != nil {
		d.metrics.RecordFailure(string(kind))
		d.onFailure(ctx, kind, env, err)
		return
	}

	d.metrics.RecordSuccess(string(kind))
	if kind == FetchArticle {
		d.enqueueFollowOns(ctx, env.TraceID, result.FollowOns)
	}
}

func (d *Dispatcher) onFailure(ctx context.Context, kind TaskKind, env Envelope, handlerErr error) {
	env.Attempt++
	if env.Attempt >= d.maxRetries {
		payload, _ := json.Marshal(env)
		d.dlq(ctx, kind, job.DLQEntry{
			Reason:   string(kind),
			Err:      handlerErr.Error(),
			Job:      payload,
			FailedAt: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	if err := d.q.PushTailJSON(ctx, string(kind), env); err != nil {
		d.logger.Error("dispatch: requeue failed",
			slog.String("queue", string(kind)), slog.Any("error", err))
	}
}

func (d *Dispatcher) dlq(ctx context.Context, kind TaskKind, entry job.DLQEntry) {
	if err := d.q.PushTailJSON(ctx, "DLQ:"+string(kind), entry); err != nil {
		d.logger.Error("dispatch: dlq push failed",
			slog.String("queue", string(kind)), slog.Any("error", err))
		return
	}
	d.metrics.RecordDLQ(string(kind))
}

func (d *Dispatcher) enqueueFollowOns(ctx context.Context, traceID string, followOns []FollowOn) {
	for _, fo := range followOns {
		env := Envelope{TraceID: traceID, Payload: fo.Payload, Attempt: 0}
		if err := d.q.PushTailJSON(ctx, string(fo.Queue), env); err != nil {
			d.logger.Error("dispatch: follow-on enqueue failed",
				slog.String("queue", string(fo.Queue)), slog.Any("error", err))
		}
	}
}
