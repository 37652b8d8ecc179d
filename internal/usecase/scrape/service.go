// Package scrape drives C3-C7 (job envelope, fetcher, extractor, normaliser,
// article store) through the state machine of spec.md §4.9: received →
// validated → (skip|normalised → fetched → extracted → persisted → emitted →
// done), with retry/DLQ dispositions modeled the way
// internal/usecase/fetch.Service drives the teacher's own crawl pipeline.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/idempotency"
	"github.com/tsuchiya2/storypipe/internal/infra/extract"
	"github.com/tsuchiya2/storypipe/internal/infra/fetcher"
	"github.com/tsuchiya2/storypipe/internal/infra/normalize"
	"github.com/tsuchiya2/storypipe/internal/job"
	"github.com/tsuchiya2/storypipe/internal/queue"
	"github.com/tsuchiya2/storypipe/internal/repository"
)

// Fetcher is satisfied by both fetcher.RawFetcher and fetcher.HeadlessFetcher.
type Fetcher interface {
	Fetch(ctx context.Context, urlStr string) (*fetcher.Result, error)
}

// Config controls the orchestration's retry/skip behaviour, per spec.md §9's
// Open Questions: the post-success delay is config-driven (no hard-coded
// sleep) and FORCE defaults to false.
type Config struct {
	MaxRetries       int
	PostSuccessDelay time.Duration
	Force            bool
	HeadlessEnabled  bool
}

// DefaultConfig returns spec.md §6's scraper row: MAX_RETRIES=2, no
// post-success delay, headless fallback on, FORCE off.
func DefaultConfig() Config {
	return Config{MaxRetries: 2, PostSuccessDelay: 0, Force: false, HeadlessEnabled: true}
}

// Service wires C1-C7 into the scraper state machine.
type Service struct {
	queue       *queue.Queue
	idem        *idempotency.Registry
	rawFetcher  Fetcher
	headless    Fetcher
	articleRepo repository.ArticleRepository
	storyRepo   repository.StoryRepository
	logger      *slog.Logger
	metrics     *Metrics
	cfg         Config
}

// New constructs a Service.
func New(q *queue.Queue, idem *idempotency.Registry, rawFetcher, headless Fetcher,
	articleRepo repository.ArticleRepository, storyRepo repository.StoryRepository,
	cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queue: q, idem: idem, rawFetcher: rawFetcher, headless: headless,
		articleRepo: articleRepo, storyRepo: storyRepo, cfg: cfg, logger: logger,
		metrics: NewMetrics(),
	}
}

const (
	queueIngest      = "ingest:out"
	queueScraperRetry = "scraper:retry"
	queueScraperDLQ   = "scraper:dlq"
	queueSummarizerIn = "summarizer:in"
)

// pollTimeout is the blocking pop window; the orchestration shares the
// fetch/extract/persist/emit pipeline's own per-call timeouts for the
// actual work, so this only bounds idle polling.
const pollTimeout = 5 * time.Second

// Run polls ingest:out and scraper:retry until ctx is cancelled, finishing
// the in-flight job before returning (spec.md §5's cooperative shutdown).
func (s *Service) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		queueName, payload, err := s.queue.PopBlocking(ctx, []string{queueIngest, queueScraperRetry}, pollTimeout)
		if err == queue.ErrTimeout {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("scrape: pop failed", slog.Any("error", err))
			continue
		}
		s.handleRaw(ctx, queueName, payload)
	}
}

func (s *Service) handleRaw(ctx context.Context, queueName string, raw []byte) {
	if queueName == queueScraperRetry {
		var rj job.RetryJob
		if err := job.Unmarshal(raw, &rj); err != nil {
			s.dlq(ctx, "bad_payload", raw, err)
			return
		}
		requeued, err := s.queue.RequeueIfNotVisible(ctx, queueScraperRetry, raw, rj.VisibleAt)
		if err != nil {
			s.logger.Error("scrape: requeue visibility check failed", slog.Any("error", err))
			return
		}
		if requeued {
			return
		}
		var ij job.IngestJob
		if err := job.Unmarshal(rj.Payload, &ij); err != nil {
			s.dlq(ctx, "bad_payload", rj.Payload, err)
			return
		}
		ij.Attempt = rj.Attempt
		s.process(ctx, ij)
		return
	}

	var ij job.IngestJob
	if err := job.Unmarshal(raw, &ij); err != nil {
		s.dlq(ctx, "bad_payload", raw, err)
		return
	}
	s.process(ctx, ij)
}

// process runs one job through the full state machine, starting from
// "validated" (unmarshalling already proved the envelope well-formed).
func (s *Service) process(ctx context.Context, ij job.IngestJob) {
	story := ij.Story

	if story.URL == "" {
		s.dlq(ctx, string(job.KindNoURL), mustMarshal(ij), job.ErrNoURL)
		return
	}

	if !s.cfg.Force {
		done, err := s.idem.Check(ctx, idempotency.ScraperDoneKey(story.ID))
		if err == nil && done {
			s.metrics.RecordState("skip")
			return
		}
	}

	canonicalURL, domain, err := normalize.CanonicalizeURL(story.URL)
	if err != nil {
		s.dlq(ctx, string(job.KindNoURL), mustMarshal(ij), err)
		return
	}
	s.metrics.RecordState("normalised")

	result, usedHeadless, err := s.fetch(ctx, canonicalURL)
	if err != nil {
		s.dispositionFetchError(ctx, ij, err)
		return
	}
	s.metrics.RecordState("fetched")

	if !isSupportedMIME(result.ContentType, canonicalURL) {
		s.dlq(ctx, string(job.KindUnsupportedMIME), mustMarshal(ij), fmt.Errorf("%s", result.ContentType))
		return
	}

	extracted, err := extract.Extract(string(result.Body), result.FinalURL)
	if err != nil || strings.TrimSpace(extracted.Text) == "" {
		if !usedHeadless && s.cfg.HeadlessEnabled {
			headlessResult, herr := s.headless.Fetch(ctx, canonicalURL)
			if herr == nil && headlessResult != nil {
				extracted, err = extract.Extract(string(headlessResult.Body), headlessResult.FinalURL)
			}
		}
		if err != nil || strings.TrimSpace(extracted.Text) == "" {
			s.dlq(ctx, string(job.KindEmptyContent), mustMarshal(ij), job.ErrEmptyContent)
			return
		}
	}
	s.metrics.RecordState("extracted")

	lang := normalize.DetectLanguage(extracted.Text)
	contentHash := normalize.ContentHash(lang, domain, extracted.Text)
	article := &entity.Article{
		Language:    lang,
		Text:        extracted.Text,
		WordCount:   normalize.WordCount(extracted.Text),
		ContentHash: contentHash,
	}

	persisted, err := s.articleRepo.UpsertArticleAndLinkStory(ctx, story.ID, article, domain, extracted.Author)
	if err != nil {
		s.retry(ctx, ij, job.KindDBError, err)
		return
	}
	s.metrics.RecordState("persisted")

	in := job.SummariserIn{
		TraceID: ij.TraceID,
		Story:   story,
		Article: job.ArticleIn{
			ID:          fmt.Sprintf("%d", persisted.ID),
			Language:    persisted.Language,
			WordCount:   persisted.WordCount,
			TextHead:    headTail(persisted.Text, true),
			Headings:    extracted.Headings,
			TextTail:    headTail(persisted.Text, false),
			IsPDF:       strings.Contains(strings.ToLower(result.ContentType), "pdf"),
			IsPaywalled: false,
		},
		SchemaVersion: job.SchemaVersion,
	}
	if err := s.queue.PushHeadJSON(ctx, queueSummarizerIn, in); err != nil {
		s.retry(ctx, ij, job.KindRedisOut, err)
		return
	}
	s.metrics.RecordState("emitted")

	if _, err := s.idem.Claim(ctx, idempotency.ScraperDoneKey(story.ID), idempotency.DefaultTTL); err != nil {
		s.logger.Warn("scrape: idempotency claim failed, non-fatal", slog.Any("error", err))
	}
	s.metrics.RecordState("done")

	if s.cfg.PostSuccessDelay > 0 {
		select {
		case <-time.After(s.cfg.PostSuccessDelay):
		case <-ctx.Done():
		}
	}
}

// fetch runs the direct path, falling back to headless per spec.md §4.3's
// policy: retryable direct failure and headless enabled.
func (s *Service) fetch(ctx context.Context, canonicalURL string) (*fetcher.Result, bool, error) {
	result, err := s.rawFetcher.Fetch(ctx, canonicalURL)
	if err == nil && result != nil {
		return result, false, nil
	}

	useHeadless, reason := fetcher.FallbackPolicy(err, s.cfg.HeadlessEnabled)
	if !useHeadless {
		if reason == job.KindFetchNonRetry {
			return nil, false, job.ErrFetchNonRetry
		}
		return nil, false, job.ErrFetchRetry
	}

	headlessResult, herr := s.headless.Fetch(ctx, canonicalURL)
	if herr != nil || headlessResult == nil {
		return nil, true, job.ErrFetchRetry
	}
	return headlessResult, true, nil
}

func (s *Service) dispositionFetchError(ctx context.Context, ij job.IngestJob, err error) {
	if err == job.ErrFetchNonRetry {
		s.dlq(ctx, string(job.KindFetchNonRetry), mustMarshal(ij), err)
		return
	}
	s.retry(ctx, ij, job.KindFetchRetry, err)
}

// retry re-enqueues ij to scraper:retry with an incremented attempt and a
// visibility delay per spec.md §4.9's backoff formula, or DLQs it once
// max_retries is reached.
func (s *Service) retry(ctx context.Context, ij job.IngestJob, reason job.ErrorKind, cause error) {
	attempt := ij.Attempt + 1
	if attempt >= s.cfg.MaxRetries {
		s.dlq(ctx, string(reason), mustMarshal(ij), cause)
		return
	}

	delay := fetcher.RetryBackoff(attempt)
	rj := job.RetryJob{
		TraceID:   ij.TraceID,
		Payload:   mustMarshal(ij),
		Attempt:   attempt,
		VisibleAt: time.Now().Add(delay).UnixMilli(),
		Queue:     queueIngest,
		Reason:    string(reason),
	}
	if err := s.queue.PushTailJSON(ctx, queueScraperRetry, rj); err != nil {
		s.logger.Error("scrape: retry enqueue failed", slog.Any("error", err))
	}
	s.metrics.RecordState("requeued")
}

func (s *Service) dlq(ctx context.Context, reason string, payload []byte, cause error) {
	entry := job.DLQEntry{
		Reason:   reason,
		Err:      errString(cause),
		Payload:  payload,
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.queue.PushTailJSON(ctx, queueScraperDLQ, entry); err != nil {
		s.logger.Error("scrape: dlq push failed", slog.Any("error", err))
		return
	}
	s.metrics.RecordState("dlq")
}

// isSupportedMIME implements spec.md §4.9's check: content-type not
// containing "html" and URL not ending ".html" is unsupported.
func isSupportedMIME(contentType, urlStr string) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(urlStr), ".html")
}

// headTail returns the first (head=true) or last (head=false) 2000 runes
// of text, the bounded window the summariser payload carries.
func headTail(text string, head bool) string {
	const window = 2000
	r := []rune(text)
	if len(r) <= window {
		return text
	}
	if head {
		return string(r[:window])
	}
	return string(r[len(r)-window:])
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
