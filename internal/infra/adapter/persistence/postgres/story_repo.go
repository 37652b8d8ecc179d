package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/repository"
)

type StoryRepo struct{ db *sql.DB }

func NewStoryRepo(db *sql.DB) repository.StoryRepository {
	return &StoryRepo{db: db}
}

func (repo *StoryRepo) Get(ctx context.Context, id string) (*entity.Story, error) {
	const query = `
SELECT id, url, title, article_id, domain, author, created_at, updated_at
FROM stories
WHERE id = $1
LIMIT 1`
	var story entity.Story
	err := repo.db.QueryRowContext(ctx, query, id).
		Scan(&story.ID, &story.URL, &story.Title, &story.ArticleID,
			&story.Domain, &story.Author, &story.CreatedAt, &story.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &story, nil
}

func (repo *StoryRepo) Create(ctx context.Context, story *entity.Story) error {
	const query = `
INSERT INTO stories (id, url, title, article_id, domain, author, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
ON CONFLICT (id) DO NOTHING
RETURNING created_at, updated_at`
	err := repo.db.QueryRowContext(ctx, query,
		story.ID, story.URL, story.Title, story.ArticleID, story.Domain, story.Author,
	).Scan(&story.CreatedAt, &story.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}
