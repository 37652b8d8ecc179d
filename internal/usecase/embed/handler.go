// Package embed implements the Dispatcher's EMBED and TAG task handlers
// (C13 per SPEC_FULL.md §2): computing and persisting per-article vector
// embeddings, and updating the classification tags/topics a summary carries,
// as follow-on work enqueued after a summary is produced.
package embed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/infra/dispatch"
	"github.com/tsuchiya2/storypipe/internal/repository"
	"github.com/tsuchiya2/storypipe/internal/usecase/ai"
)

// Payload is the EMBED task's envelope payload: enough article content to
// compute an embedding without a second database round trip.
type Payload struct {
	ArticleID int64  `json:"article_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Content   string `json:"content"`
}

// TagPayload is the TAG task's envelope payload. The summariser already
// computed the classification (spec.md §4.7); this handler lets tags be
// refreshed independently of a full re-summarize.
type TagPayload struct {
	ArticleID int64    `json:"article_id"`
	Model     string   `json:"model"`
	Tags      []string `json:"tags"`
	Topics    []string `json:"topics"`
}

// NewHandler returns the Dispatcher's EMBED handler: it calls the AI
// provider for a vector and upserts it via ArticleEmbeddingRepository,
// keyed on (article_id, model_key) per spec.md §4.2.
func NewHandler(provider ai.AIProvider, repo repository.ArticleEmbeddingRepository) dispatch.Handler {
	metrics := NewMetrics()
	return func(ctx context.Context, raw json.RawMessage) (dispatch.Result, error) {
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return dispatch.Result{}, fmt.Errorf("embed: decode payload: %w", err)
		}

		resp, err := provider.EmbedArticle(ctx, ai.EmbedRequest{
			ArticleID: p.ArticleID,
			Title:     p.Title,
			Content:   p.Content,
			URL:       p.URL,
		})
		if err != nil {
			return dispatch.Result{}, fmt.Errorf("embed: provider call: %w", err)
		}
		if !resp.Success {
			return dispatch.Result{}, fmt.Errorf("embed: provider reported failure: %s", resp.ErrorMessage)
		}

		embedding := &entity.ArticleEmbedding{
			ArticleID: p.ArticleID,
			ModelKey:  resp.ModelKey,
			Dimension: resp.Dimension,
			Embedding: resp.Embedding,
		}
		if err := embedding.Validate(); err != nil {
			return dispatch.Result{}, fmt.Errorf("embed: invalid embedding: %w", err)
		}
		if err := repo.Upsert(ctx, embedding); err != nil {
			return dispatch.Result{}, fmt.Errorf("embed: upsert: %w", err)
		}
		metrics.EmbeddingsUpsertedTotal.Inc()
		return dispatch.Result{}, nil
	}
}

// NewTagHandler returns the Dispatcher's TAG handler: it rewrites the
// tags/topics of the existing summary for (ArticleID, Model), leaving the
// rest of the summary untouched.
func NewTagHandler(summaryRepo repository.SummaryRepository) dispatch.Handler {
	metrics := NewMetrics()
	return func(ctx context.Context, raw json.RawMessage) (dispatch.Result, error) {
		var p TagPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return dispatch.Result{}, fmt.Errorf("tag: decode payload: %w", err)
		}

		summaries, err := summaryRepo.FindByArticleID(ctx, p.ArticleID)
		if err != nil {
			return dispatch.Result{}, fmt.Errorf("tag: find summaries: %w", err)
		}

		var target *entity.Summary
		for _, s := range summaries {
			if s.Model == p.Model {
				target = s
				break
			}
		}
		if target == nil {
			return dispatch.Result{}, fmt.Errorf("tag: no summary found for article %d model %q", p.ArticleID, p.Model)
		}

		target.Tags = p.Tags
		target.Topics = p.Topics
		if err := summaryRepo.Replace(ctx, target); err != nil {
			return dispatch.Result{}, fmt.Errorf("tag: replace summary: %w", err)
		}
		metrics.TagsUpdatedTotal.Inc()
		return dispatch.Result{}, nil
	}
}
