package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/tsuchiya2/storypipe/internal/job"
)

// DLQName returns the dead-letter queue name for a given source queue, per
// spec.md §6: "DLQ routing which uses DLQ:{name}".
func DLQName(queue string) string {
	return "DLQ:" + queue
}

// RouteToDLQ appends {reason, err} to the original payload and tail-pushes
// it to DLQ:{queue}, carrying the payload verbatim so an operator can
// manually reprocess it (spec.md §7 "User-visible behaviour").
func (q *Queue) RouteToDLQ(ctx context.Context, queue string, payload []byte, reason job.ErrorKind, cause error) error {
	entry := job.DLQEntry{
		Reason:   string(reason),
		Payload:  payload,
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		entry.Err = cause.Error()
	}
	b, err := job.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: marshal dlq entry: %w", err)
	}
	return q.PushTail(ctx, DLQName(queue), b)
}
