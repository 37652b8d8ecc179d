package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/repository"
)

type ArticleRepo struct{ db *sql.DB }

func NewArticleRepo(db *sql.DB) repository.ArticleRepository {
	return &ArticleRepo{db: db}
}

func (repo *ArticleRepo) List(ctx context.Context, limit int) ([]*entity.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
SELECT id, language, html, text, word_count, content_hash, created_at, updated_at
FROM articles
ORDER BY created_at DESC
LIMIT $1`
	rows, err := repo.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	articles := make([]*entity.Article, 0, limit)
	for rows.Next() {
		var article entity.Article
		if err := rows.Scan(&article.ID, &article.Language, &article.HTML, &article.Text,
			&article.WordCount, &article.ContentHash, &article.CreatedAt, &article.UpdatedAt); err != nil {
			return nil, fmt.Errorf("List: Scan: %w", err)
		}
		articles = append(articles, &article)
	}
	return articles, rows.Err()
}

func (repo *ArticleRepo) Get(ctx context.Context, id int64) (*entity.Article, error) {
	const query = `
SELECT id, language, html, text, word_count, content_hash, created_at, updated_at
FROM articles
WHERE id = $1
LIMIT 1`
	var article entity.Article
	err := repo.db.QueryRowContext(ctx, query, id).
		Scan(&article.ID, &article.Language, &article.HTML, &article.Text,
			&article.WordCount, &article.ContentHash, &article.CreatedAt, &article.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &article, nil
}

func (repo *ArticleRepo) GetByContentHash(ctx context.Context, contentHash string) (*entity.Article, error) {
	const query = `
SELECT id, language, html, text, word_count, content_hash, created_at, updated_at
FROM articles
WHERE content_hash = $1
LIMIT 1`
	var article entity.Article
	err := repo.db.QueryRowContext(ctx, query, contentHash).
		Scan(&article.ID, &article.Language, &article.HTML, &article.Text,
			&article.WordCount, &article.ContentHash, &article.CreatedAt, &article.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByContentHash: %w", err)
	}
	return &article, nil
}

// UpsertArticleAndLinkStory implements spec.md §4.6: upsert_article + link_story
// in a single transaction. On content_hash conflict the existing row's id is
// read back rather than overwritten; the story row gets article_id set and
// domain/author filled only if they are currently null.
func (repo *ArticleRepo) UpsertArticleAndLinkStory(ctx context.Context, storyID string, article *entity.Article, domain, author string) (*entity.Article, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("UpsertArticleAndLinkStory: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsertQuery = `
INSERT INTO articles (language, html, text, word_count, content_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
ON CONFLICT (content_hash) DO NOTHING
RETURNING id, created_at, updated_at`

	var id int64
	var createdAt, updatedAt sql.NullTime
	err = tx.QueryRowContext(ctx, upsertQuery,
		article.Language, article.HTML, article.Text, article.WordCount, article.ContentHash,
	).Scan(&id, &createdAt, &updatedAt)

	switch {
	case err == sql.ErrNoRows:
		const selectQuery = `SELECT id, created_at, updated_at FROM articles WHERE content_hash = $1`
		if err := tx.QueryRowContext(ctx, selectQuery, article.ContentHash).Scan(&id, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("UpsertArticleAndLinkStory: read existing article: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("UpsertArticleAndLinkStory: upsert_article: %w", err)
	}

	const linkQuery = `
UPDATE stories SET
	article_id = $1,
	domain     = COALESCE(domain, $2),
	author     = COALESCE(author, $3),
	updated_at = NOW()
WHERE id = $4`
	if _, err := tx.ExecContext(ctx, linkQuery, id, nullIfEmpty(domain), nullIfEmpty(author), storyID); err != nil {
		return nil, fmt.Errorf("UpsertArticleAndLinkStory: link_story: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("UpsertArticleAndLinkStory: commit: %w", err)
	}

	article.ID = id
	article.CreatedAt = createdAt.Time
	article.UpdatedAt = updatedAt.Time
	return article, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
