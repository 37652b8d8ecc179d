package repository

import (
	"context"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
)

// ArticleRepository persists deduplicated article text and links it to the
// story that produced it, per spec.md §4.6.
type ArticleRepository interface {
	Get(ctx context.Context, id int64) (*entity.Article, error)
	GetByContentHash(ctx context.Context, contentHash string) (*entity.Article, error)
	List(ctx context.Context, limit int) ([]*entity.Article, error)

	// UpsertArticleAndLinkStory runs upsert_article + link_story in one
	// transaction: insert article on content_hash conflict returns the
	// existing id; the story row has article_id set and domain/author
	// filled only if currently null (COALESCE semantics).
	UpsertArticleAndLinkStory(ctx context.Context, storyID string, article *entity.Article, domain, author string) (*entity.Article, error)
}

// StoryRepository manages the Story rows the scraper links articles to.
type StoryRepository interface {
	Get(ctx context.Context, id string) (*entity.Story, error)
	Create(ctx context.Context, story *entity.Story) error
}
