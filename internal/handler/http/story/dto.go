package story

import "time"

type ArticleDTO struct {
	ID          int64     `json:"id"`
	Language    string    `json:"language"`
	Text        string    `json:"text"`
	WordCount   int       `json:"word_count"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SummaryDTO struct {
	ID              int64     `json:"id"`
	Model           string    `json:"model"`
	Lang            string    `json:"lang"`
	Summary         string    `json:"summary"`
	PrimaryCategory string    `json:"primary_category,omitempty"`
	Type            string    `json:"type,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Topics          []string  `json:"topics,omitempty"`
	Summary140      string    `json:"summary_140,omitempty"`
	Quicktake       string    `json:"quicktake,omitempty"`
	SummarizedAt    time.Time `json:"summarized_at"`
}

type DTO struct {
	ID        string       `json:"id"`
	URL       string       `json:"url"`
	Title     string       `json:"title"`
	Domain    string       `json:"domain,omitempty"`
	Author    string       `json:"author,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Article   *ArticleDTO  `json:"article,omitempty"`
	Summaries []SummaryDTO `json:"summaries,omitempty"`
}
