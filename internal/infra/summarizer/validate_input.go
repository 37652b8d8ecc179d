package summarizer

import (
	"fmt"
	"net/url"

	"github.com/tsuchiya2/storypipe/internal/job"
)

// ValidateInput checks a SummariserIn envelope against the schema contract
// of spec.md §4.7 before any LLM work is attempted: wrong schema_version,
// a missing story/article id, or a language code outside 2..5 chars all
// route the job straight to DLQ as SCHEMA_MISMATCH, never retried.
func ValidateInput(in job.SummariserIn) error {
	if in.SchemaVersion != job.SchemaVersion {
		return fmt.Errorf("%w: schema_version %d, want %d", job.ErrSchemaMismatch, in.SchemaVersion, job.SchemaVersion)
	}
	if in.Story.ID == "" {
		return fmt.Errorf("%w: missing story.id", job.ErrSchemaMismatch)
	}
	if in.Article.ID == "" {
		return fmt.Errorf("%w: missing article.id", job.ErrSchemaMismatch)
	}
	if n := len(in.Article.Language); n < 2 || n > 5 {
		return fmt.Errorf("%w: language %q out of 2..5 char range", job.ErrSchemaMismatch, in.Article.Language)
	}
	return nil
}

// RequestFromJob builds the bounded LLM Request from a validated SummariserIn.
// Callers must run ValidateInput first.
func RequestFromJob(in job.SummariserIn) Request {
	return Request{
		TraceID:       in.TraceID,
		ArticleID:     in.Article.ID,
		Title:         in.Story.Title,
		Domain:        hostOf(in.Story.URL),
		URL:           in.Story.URL,
		Language:      in.Article.Language,
		IsPDF:         in.Article.IsPDF,
		IsPaywalled:   in.Article.IsPaywalled,
		Headings:      in.Article.Headings,
		TextHead:      in.Article.TextHead,
		TextTail:      in.Article.TextTail,
		HNMetrics:     in.Metrics,
		CandidateTags: in.Hints.CandidateTags,
	}
}

// hostOf extracts the registrable host from a story URL for the bounded
// "domain" prompt field; an unparseable URL yields an empty domain rather
// than an error, since this runs after ValidateInput has already accepted
// the job.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
