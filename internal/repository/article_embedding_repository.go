package repository

import (
	"context"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
)

// SimilarArticle represents the result of a similarity search.
// It contains the article ID and the similarity score (0.0 to 1.0).
type SimilarArticle struct {
	ArticleID  int64
	Similarity float64
}

// ArticleEmbeddingRepository manages per-article vector embeddings, unique
// on (article_id, model_key) per spec.md §4.2.
type ArticleEmbeddingRepository interface {
	// Upsert creates a new embedding or replaces the vector of an existing
	// one, keyed on (article_id, model_key).
	Upsert(ctx context.Context, embedding *entity.ArticleEmbedding) error

	// FindByArticleID retrieves all embeddings for a given article ID,
	// ordered by model_key. Returns an empty slice if none are found.
	FindByArticleID(ctx context.Context, articleID int64) ([]*entity.ArticleEmbedding, error)

	// SearchSimilar finds articles with embeddings similar to the provided
	// vector under modelKey, ordered by similarity (highest first). limit
	// is clamped to (0, 100]; <= 0 defaults to 10.
	SearchSimilar(ctx context.Context, embedding []float32, modelKey string, limit int) ([]SimilarArticle, error)

	// DeleteByArticleID removes all embeddings for an article and returns
	// the number of rows deleted.
	DeleteByArticleID(ctx context.Context, articleID int64) (int64, error)
}
