// Package dispatch implements the generic multi-queue worker described in
// spec.md §4.8: a fixed map from task kind to handler, retry/DLQ bookkeeping,
// and FETCH_ARTICLE follow-on enqueue.
package dispatch

import (
	"context"
	"encoding/json"
)

// TaskKind is the closed set of queues the Dispatcher polls. Modeled as a
// fixed mapping, not an open registry, per spec.md §9's design note: unknown
// kinds are a configuration error, not a runtime extension point.
type TaskKind string

const (
	FetchArticle   TaskKind = "FETCH_ARTICLE"
	Summarize      TaskKind = "SUMMARIZE"
	Embed          TaskKind = "EMBED"
	Tag            TaskKind = "TAG"
	RefreshHNStats TaskKind = "REFRESH_HN_STATS"
)

// QueueOrder is the fixed poll order; across queues the poll order is the
// declaration order per spec.md §5.
var QueueOrder = []TaskKind{FetchArticle, Summarize, Embed, Tag, RefreshHNStats}

// Envelope wraps a task payload with the attempt counter the Dispatcher
// increments on failure. Queue-level retry is tracked independently of any
// job-specific schema the handler's payload carries.
type Envelope struct {
	TraceID string          `json:"trace_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// FollowOn is one derived job a handler wants enqueued after it succeeds.
type FollowOn struct {
	Queue   TaskKind
	Payload json.RawMessage
}

// Result is a handler's outcome. FollowOns is only meaningful for the
// FetchArticle handler, per spec.md §4.8: "success for FETCH_ARTICLE
// triggers enqueuing of SUMMARIZE, EMBED, and TAG follow-ons derived from
// the result".
type Result struct {
	FollowOns []FollowOn
}

// Handler processes one task payload. Returning an error causes the
// Dispatcher to retry or DLQ the envelope per its attempt count.
type Handler func(ctx context.Context, payload json.RawMessage) (Result, error)
