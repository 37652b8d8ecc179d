package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/infra/normalize"
	"github.com/tsuchiya2/storypipe/internal/job"
	"github.com/tsuchiya2/storypipe/internal/observability/metrics"
	"github.com/tsuchiya2/storypipe/internal/repository"

	"golang.org/x/sync/errgroup"
)

// scraperConfigKey is the context key for ScraperConfig.
type scraperConfigKey string

const (
	discoveryParallelism = 10 // concurrent per-source feed fetches

	// IngestQueue is the queue discovered story candidates are pushed onto;
	// internal/usecase/scrape.Service is the consumer on the other end.
	IngestQueue = "ingest:out"
)

// FeedFetcher is an interface for fetching RSS/Atom feeds from a URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]FeedItem, error)
}

// FeedItem represents a single item from an RSS/Atom feed or web scraper.
type FeedItem struct {
	Title       string
	URL         string
	Content     string
	PublishedAt time.Time
}

// Enqueuer is the narrow queue dependency discovery needs: push a candidate
// story onto the ingest queue for the scraper service to pick up.
type Enqueuer interface {
	PushTailJSON(ctx context.Context, queueName string, v interface{}) error
}

// Service discovers candidate story URLs from configured sources (RSS feeds
// and site-specific web scrapers) and enqueues them as IngestJob payloads.
// It does not fetch article content or summarise: that is the job of
// usecase/scrape.Service and usecase/summarize.Service further down the
// pipeline, once a story has a row in the stories table.
type Service struct {
	SourceRepo  repository.SourceRepository
	StoryRepo   repository.StoryRepository
	FeedFetcher FeedFetcher
	WebScrapers map[string]FeedFetcher // web scraper registry for non-RSS sources
	Queue       Enqueuer
}

// NewService creates a new discovery Service with the provided dependencies.
func NewService(
	sourceRepo repository.SourceRepository,
	storyRepo repository.StoryRepository,
	feedFetcher FeedFetcher,
	webScrapers map[string]FeedFetcher,
	queue Enqueuer,
) Service {
	return Service{
		SourceRepo:  sourceRepo,
		StoryRepo:   storyRepo,
		FeedFetcher: feedFetcher,
		WebScrapers: webScrapers,
		Queue:       queue,
	}
}

// CrawlStats contains statistics about a discovery run.
type CrawlStats struct {
	Sources    int
	FeedItems  int64
	Enqueued   int64
	Duplicated int64
	Errors     int64
	Duration   time.Duration
}

// CrawlAllSources fetches feed items from every active source and enqueues
// each as a candidate story, deduplicated by a content-addressed story ID
// so re-discovering the same URL is a harmless no-op at the database level.
func (s *Service) CrawlAllSources(ctx context.Context) (*CrawlStats, error) {
	logger := slog.Default()
	startAll := time.Now()
	stats := &CrawlStats{}

	srcs, err := s.SourceRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}
	stats.Sources = len(srcs)

	for _, src := range srcs {
		if err := s.processSingleSource(ctx, src, stats); err != nil {
			return stats, err
		}
	}

	stats.Duration = time.Since(startAll)
	logger.Info("discovery crawl completed",
		slog.Int("sources", stats.Sources),
		slog.Int64("feed_items", stats.FeedItems),
		slog.Int64("enqueued", stats.Enqueued),
		slog.Int64("duplicated", stats.Duplicated),
		slog.Int64("errors", stats.Errors),
		slog.Duration("duration", stats.Duration),
	)

	return stats, nil
}

// selectFetcher chooses the appropriate fetcher based on the source type.
// It returns the RSS fetcher for RSS sources, or the appropriate web scraper
// for other types. Falls back to RSS fetcher if the source type is unknown.
func (s *Service) selectFetcher(src *entity.Source) FeedFetcher {
	if src.SourceType == "" || src.SourceType == "RSS" {
		return s.FeedFetcher
	}

	if s.WebScrapers != nil {
		if fetcher, exists := s.WebScrapers[src.SourceType]; exists {
			return fetcher
		}
	}

	slog.Warn("unknown source type, falling back to RSS fetcher",
		slog.String("source_type", src.SourceType),
		slog.Int64("source_id", src.ID),
		slog.String("source_name", src.Name))
	return s.FeedFetcher
}

// processSingleSource fetches one source's feed and enqueues each item as a
// candidate story. Fetch failures are logged and skipped so one broken
// source doesn't abort the whole crawl.
func (s *Service) processSingleSource(ctx context.Context, src *entity.Source, stats *CrawlStats) error {
	logger := slog.Default()
	sourceStart := time.Now()

	fetcher := s.selectFetcher(src)

	if src.ScraperConfig != nil {
		ctx = context.WithValue(ctx, scraperConfigKey("scraper_config"), src.ScraperConfig)
	}

	feedItems, err := fetcher.Fetch(ctx, src.FeedURL)
	if err != nil {
		logger.Warn("failed to fetch feed",
			slog.Int64("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.Any("error", err))
		metrics.RecordFeedCrawlError(src.ID, "fetch_failed")
		return nil
	}

	if len(feedItems) == 0 {
		logger.Info("feed is empty",
			slog.Int64("source_id", src.ID),
			slog.String("feed_url", src.FeedURL))
		return nil
	}

	if err := s.enqueueFeedItems(ctx, src, feedItems, stats); err != nil {
		metrics.RecordFeedCrawlError(src.ID, "enqueue_failed")
		return fmt.Errorf("enqueue feed items: %w", err)
	}

	safeCtx := context.WithoutCancel(ctx)
	if err := s.SourceRepo.TouchCrawledAt(safeCtx, src.ID, time.Now()); err != nil {
		return fmt.Errorf("update source crawled timestamp: %w", err)
	}

	sourceDuration := time.Since(sourceStart)
	itemsFound := int64(len(feedItems))
	metrics.RecordFeedCrawl(src.ID, sourceDuration, itemsFound, atomic.LoadInt64(&stats.Enqueued), atomic.LoadInt64(&stats.Duplicated))

	logger.Info("source discovery completed",
		slog.Int64("source_id", src.ID),
		slog.Int64("feed_items", itemsFound),
		slog.Duration("duration", sourceDuration),
	)

	return nil
}

// enqueueFeedItems derives a story ID and candidate URL for each feed item
// in parallel, creates the story row, and pushes an IngestJob for the
// scraper service. Items that fail to create (name collision, DB error) are
// logged and skipped rather than aborting the batch.
func (s *Service) enqueueFeedItems(ctx context.Context, src *entity.Source, feedItems []FeedItem, stats *CrawlStats) error {
	sem := make(chan struct{}, discoveryParallelism)
	eg, egCtx := errgroup.WithContext(ctx)

	for _, feedItem := range feedItems {
		item := feedItem
		atomic.AddInt64(&stats.FeedItems, 1)

		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return s.enqueueOne(egCtx, src, item, stats)
		})
	}

	return eg.Wait()
}

func (s *Service) enqueueOne(ctx context.Context, src *entity.Source, item FeedItem, stats *CrawlStats) error {
	canonicalURL, _, err := normalize.CanonicalizeURL(item.URL)
	if err != nil {
		slog.Warn("skipping feed item with unparseable URL",
			slog.Int64("source_id", src.ID),
			slog.String("url", item.URL),
			slog.Any("error", err))
		atomic.AddInt64(&stats.Errors, 1)
		return nil
	}

	storyID := storyIDFromURL(canonicalURL)
	story := &entity.Story{
		ID:        storyID,
		URL:       canonicalURL,
		Title:     item.Title,
		CreatedAt: time.Now(),
	}

	if err := s.StoryRepo.Create(ctx, story); err != nil {
		return fmt.Errorf("create story: %w", err)
	}

	ij := job.IngestJob{
		TraceID: storyID,
		Story: job.Story{
			ID:        storyID,
			URL:       canonicalURL,
			Title:     item.Title,
			Source:    src.Name,
			CreatedAt: story.CreatedAt.UTC().Format(time.RFC3339),
		},
		Attempt: 0,
	}

	if err := s.Queue.PushTailJSON(ctx, IngestQueue, ij); err != nil {
		return fmt.Errorf("enqueue ingest job: %w", err)
	}

	atomic.AddInt64(&stats.Enqueued, 1)
	return nil
}

// storyIDFromURL derives a deterministic, content-addressed story ID so
// re-discovering the same canonical URL maps to the same row and collapses
// at the stories.id primary key (ON CONFLICT DO NOTHING) instead of
// requiring a pre-check.
func storyIDFromURL(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}
