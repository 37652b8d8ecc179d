package repository

import (
	"context"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
)

// SummaryRepository persists the summariser's structured output, unique on
// (article_id, model, lang) per spec.md §3. Replacement is delete-then-insert,
// not upsert, since the classification fields may shrink between runs.
type SummaryRepository interface {
	// Replace deletes any existing row for (article_id, model, lang) and
	// inserts the new one in a single transaction, idempotent on retry.
	Replace(ctx context.Context, summary *entity.Summary) error

	FindByArticleID(ctx context.Context, articleID int64) ([]*entity.Summary, error)
}
