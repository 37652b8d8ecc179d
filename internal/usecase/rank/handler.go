// Package rank implements the Dispatcher's REFRESH_HN_STATS task handler
// (C13 per SPEC_FULL.md §2 and §9): it recomputes the related-article signal
// for an article by re-running pgvector similarity search against its
// stored embedding, the periodic ranking refresh the teacher's cron wiring
// (adapted in cmd/worker) now triggers instead of an HN-API poll.
package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tsuchiya2/storypipe/internal/infra/dispatch"
	"github.com/tsuchiya2/storypipe/internal/repository"
)

// defaultLimit bounds the similarity search the same way
// ArticleEmbeddingRepository.SearchSimilar itself clamps an unset limit.
const defaultLimit = 10

// Payload is the REFRESH_HN_STATS task's envelope payload.
type Payload struct {
	ArticleID int64  `json:"article_id"`
	ModelKey  string `json:"model_key"`
	Limit     int    `json:"limit,omitempty"`
}

// NewHandler returns the Dispatcher's REFRESH_HN_STATS handler. There is no
// dedicated ranking store yet (spec.md never defines one), so the refreshed
// signal is logged and counted; the lookup itself is what exercises
// ArticleEmbeddingRepository.SearchSimilar for downstream consumers.
func NewHandler(repo repository.ArticleEmbeddingRepository, logger *slog.Logger) dispatch.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := NewMetrics()
	return func(ctx context.Context, raw json.RawMessage) (dispatch.Result, error) {
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return dispatch.Result{}, fmt.Errorf("rank: decode payload: %w", err)
		}

		embeddings, err := repo.FindByArticleID(ctx, p.ArticleID)
		if err != nil {
			return dispatch.Result{}, fmt.Errorf("rank: find embeddings: %w", err)
		}
		if len(embeddings) == 0 {
			logger.Warn("rank: no embedding yet, skipping", slog.Int64("article_id", p.ArticleID))
			return dispatch.Result{}, nil
		}

		modelKey := p.ModelKey
		vector := embeddings[0].Embedding
		if modelKey == "" {
			modelKey = embeddings[0].ModelKey
		}
		for _, e := range embeddings {
			if e.ModelKey == modelKey {
				vector = e.Embedding
				break
			}
		}

		limit := p.Limit
		if limit <= 0 {
			limit = defaultLimit
		}

		similar, err := repo.SearchSimilar(ctx, vector, modelKey, limit)
		if err != nil {
			return dispatch.Result{}, fmt.Errorf("rank: search similar: %w", err)
		}

		metrics.RefreshesTotal.Inc()
		logger.Info("rank: refreshed related-article signal",
			slog.Int64("article_id", p.ArticleID),
			slog.String("model_key", modelKey),
			slog.Int("related_count", len(similar)))
		return dispatch.Result{}, nil
	}
}
