package story

import (
	"context"
	"fmt"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/repository"
)

// Service provides read access to stories and the article content they
// resolved to. Stories/articles are populated by the discovery, scraper and
// summariser stages; this use case only exposes what they produced.
type Service struct {
	StoryRepo   repository.StoryRepository
	ArticleRepo repository.ArticleRepository
	SummaryRepo repository.SummaryRepository
}

// Detail joins a story with its linked article and summaries, the shape
// the HTTP layer renders.
type Detail struct {
	Story     *entity.Story
	Article   *entity.Article
	Summaries []*entity.Summary
}

// Get retrieves a story by ID, along with its article content and
// summaries if the pipeline has produced them yet.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	if id == "" {
		return nil, ErrInvalidStoryID
	}

	st, err := s.StoryRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	if st == nil {
		return nil, ErrStoryNotFound
	}

	detail := &Detail{Story: st}
	if st.ArticleID.Valid {
		article, err := s.ArticleRepo.Get(ctx, st.ArticleID.Int64)
		if err != nil {
			return nil, fmt.Errorf("get article: %w", err)
		}
		detail.Article = article

		summaries, err := s.SummaryRepo.FindByArticleID(ctx, st.ArticleID.Int64)
		if err != nil {
			return nil, fmt.Errorf("find summaries: %w", err)
		}
		detail.Summaries = summaries
	}
	return detail, nil
}
