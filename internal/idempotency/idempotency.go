// Package idempotency implements the set-once completion markers described
// in spec.md §4.2: atomic claim-with-TTL plus a plain existence check.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the 7-day marker lifetime spec.md §6 assigns to both
// idempotency key families.
const DefaultTTL = 7 * 24 * time.Hour

// Registry wraps the same Redis client the queue layer uses; idempotency
// markers and queue data share one connection, matching spec.md §5's "no
// multi-key transactions required" note.
type Registry struct {
	rdb *redis.Client
}

// New constructs a Registry over rdb.
func New(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Claim performs an atomic set-if-absent with expiry (SET key 1 NX EX ttl).
// It returns true only when this call performed the first set; a second
// caller racing on the same key gets false without error.
func (r *Registry) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: claim %s: %w", key, err)
	}
	return ok, nil
}

// Check is a plain existence test, used by the scraper's advisory skip path
// (spec.md §4.2: "the scraper's idempotency is advisory").
func (r *Registry) Check(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: check %s: %w", key, err)
	}
	return n > 0, nil
}

// ScraperDoneKey builds the scraper:done:{story_id} key per spec.md §6.
func ScraperDoneKey(storyID string) string {
	return "scraper:done:" + storyID
}

// SummarizerDoneKey builds the summarizer:done:{article_id}:{model} key.
func SummarizerDoneKey(articleID, model string) string {
	return "summarizer:done:" + articleID + ":" + model
}
