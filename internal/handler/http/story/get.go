package story

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/handler/http/respond"
	storyUC "github.com/tsuchiya2/storypipe/internal/usecase/story"
)

type GetHandler struct{ Svc *storyUC.Service }

// ServeHTTP ストーリー詳細取得
// @Summary      ストーリー詳細取得
// @Description  指定したIDのストーリーを、紐づく記事本文・要約とともに取得します
// @Tags         stories
// @Produce      json
// @Param        id path string true "ストーリーID"
// @Success      200 {object} DTO "ストーリー詳細"
// @Failure      400 {string} string "不正なID"
// @Failure      404 {string} string "ストーリーが見つかりません"
// @Failure      500 {string} string "サーバーエラー"
// @Router       /stories/{id} [get]
func (h GetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/stories/")
	if id == "" || strings.Contains(id, "/") {
		respond.Error(w, http.StatusBadRequest, storyUC.ErrInvalidStoryID)
		return
	}

	detail, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storyUC.ErrInvalidStoryID):
			respond.Error(w, http.StatusBadRequest, err)
		case errors.Is(err, storyUC.ErrStoryNotFound):
			respond.Error(w, http.StatusNotFound, err)
		default:
			respond.SafeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	respond.JSON(w, http.StatusOK, toDTO(detail))
}

func toDTO(d *storyUC.Detail) DTO {
	out := DTO{
		ID:        d.Story.ID,
		URL:       d.Story.URL,
		Title:     d.Story.Title,
		Domain:    d.Story.Domain.String,
		Author:    d.Story.Author.String,
		CreatedAt: d.Story.CreatedAt,
		UpdatedAt: d.Story.UpdatedAt,
	}
	if d.Article != nil {
		out.Article = articleDTO(d.Article)
	}
	for _, s := range d.Summaries {
		out.Summaries = append(out.Summaries, summaryDTO(s))
	}
	return out
}

func articleDTO(a *entity.Article) *ArticleDTO {
	return &ArticleDTO{
		ID:          a.ID,
		Language:    a.Language,
		Text:        a.Text,
		WordCount:   a.WordCount,
		ContentHash: a.ContentHash,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func summaryDTO(s *entity.Summary) SummaryDTO {
	return SummaryDTO{
		ID:              s.ID,
		Model:           s.Model,
		Lang:            s.Lang,
		Summary:         s.Summary,
		PrimaryCategory: s.PrimaryCategory.String,
		Type:            s.Type.String,
		Tags:            s.Tags,
		Topics:          s.Topics,
		Summary140:      s.Summary140.String,
		Quicktake:       s.Quicktake.String,
		SummarizedAt:    s.SummarizedAt,
	}
}
