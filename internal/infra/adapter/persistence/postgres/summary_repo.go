package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/repository"
)

// SummaryRepo implements SummaryRepository for PostgreSQL. Replace is
// delete-then-insert per spec.md §3 ("the core must treat it as
// delete-then-insert (idempotent replace)"), not an upsert, since a
// re-run may drop classification fields a prior run populated.
type SummaryRepo struct{ db *sql.DB }

func NewSummaryRepo(db *sql.DB) repository.SummaryRepository {
	return &SummaryRepo{db: db}
}

func (repo *SummaryRepo) Replace(ctx context.Context, s *entity.Summary) error {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Replace: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const deleteQuery = `DELETE FROM summaries WHERE article_id = $1 AND model = $2 AND lang = $3`
	if _, err := tx.ExecContext(ctx, deleteQuery, s.ArticleID, s.Model, s.Lang); err != nil {
		return fmt.Errorf("Replace: delete existing: %w", err)
	}

	const insertQuery = `
INSERT INTO summaries (
	article_id, model, lang, summary, primary_category, type, tags, topics,
	summary_140, quicktake, audience, impact_score, confidence, reading_time_min,
	link_props, summarized_at, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
RETURNING id, created_at`

	err = tx.QueryRowContext(ctx, insertQuery,
		s.ArticleID, s.Model, s.Lang, s.Summary, s.PrimaryCategory, s.Type,
		pq.Array(s.Tags), pq.Array(s.Topics), s.Summary140, s.Quicktake,
		pq.Array(s.Audience), s.ImpactScore, s.Confidence, s.ReadingTimeMin,
		s.LinkProps, s.SummarizedAt,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("Replace: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Replace: commit: %w", err)
	}
	return nil
}

func (repo *SummaryRepo) FindByArticleID(ctx context.Context, articleID int64) ([]*entity.Summary, error) {
	const query = `
SELECT id, article_id, model, lang, summary, primary_category, type, tags, topics,
       summary_140, quicktake, audience, impact_score, confidence, reading_time_min,
       link_props, summarized_at, created_at
FROM summaries
WHERE article_id = $1
ORDER BY model, lang`

	rows, err := repo.db.QueryContext(ctx, query, articleID)
	if err != nil {
		return nil, fmt.Errorf("FindByArticleID: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := make([]*entity.Summary, 0)
	for rows.Next() {
		var s entity.Summary
		if err := rows.Scan(
			&s.ID, &s.ArticleID, &s.Model, &s.Lang, &s.Summary, &s.PrimaryCategory, &s.Type,
			pq.Array(&s.Tags), pq.Array(&s.Topics), &s.Summary140, &s.Quicktake,
			pq.Array(&s.Audience), &s.ImpactScore, &s.Confidence, &s.ReadingTimeMin,
			&s.LinkProps, &s.SummarizedAt, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("FindByArticleID: Scan: %w", err)
		}
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}
