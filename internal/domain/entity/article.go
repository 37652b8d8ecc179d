// Package entity defines the core domain entities and validation logic for
// the pipeline: the article store's persisted rows and their validation
// rules.
package entity

import (
	"database/sql"
	"time"
)

// Article is the deduplicated persisted text of a fetched page, keyed on
// ContentHash per spec.md §4.2/§4.6.
type Article struct {
	ID          int64
	Language    string
	HTML        sql.NullString
	Text        string
	WordCount   int
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Story is the unit of work the scraper receives: a candidate URL that,
// once scraped, is linked to the Article it resolved to.
type Story struct {
	ID        string
	URL       string
	Title     string
	ArticleID sql.NullInt64
	Domain    sql.NullString
	Author    sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is the structured output of the summariser (C8), one row per
// (article_id, model) per spec.md §4.7.
type Summary struct {
	ID              int64
	ArticleID       int64
	Model           string
	Lang            string
	Summary         string
	PrimaryCategory sql.NullString
	Type            sql.NullString
	Tags            []string
	Topics          []string
	Summary140      sql.NullString
	Quicktake       sql.NullString
	Audience        []string
	ImpactScore     sql.NullInt64
	Confidence      sql.NullFloat64
	ReadingTimeMin  sql.NullInt64
	LinkProps       sql.NullString // raw JSON; shape is provider-defined per spec.md §4.7
	SummarizedAt    time.Time
	CreatedAt       time.Time
}
