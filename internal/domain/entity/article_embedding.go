package entity

import "time"

// ArticleEmbedding is a vector representation of an article under a
// specific model key, unique per (article_id, model_key) per spec.md §4.2
// invariant "Embedding — (article_id, model_key, vector)".
type ArticleEmbedding struct {
	ID        int64
	ArticleID int64
	ModelKey  string
	Dimension int32
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants the store relies on before writing a row.
func (e *ArticleEmbedding) Validate() error {
	if e.ArticleID <= 0 {
		return &ValidationError{Field: "ArticleID", Message: "must be a positive article id"}
	}
	if e.ModelKey == "" {
		return &ValidationError{Field: "ModelKey", Message: "must not be empty"}
	}
	if len(e.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	if int(e.Dimension) != len(e.Embedding) {
		return ErrInvalidEmbeddingDimension
	}
	return nil
}
