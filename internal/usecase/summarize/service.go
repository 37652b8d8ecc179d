// Package summarize drives C8 (the Summariser Engine) end to end: consumes
// summarizer:in, validates the schema, runs the LLM call, persists the
// result, and emits summarizer:out, per spec.md §4.7. Modeled the same
// retry/DLQ way internal/usecase/scrape drives C4-C7.
package summarize

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
	"github.com/tsuchiya2/storypipe/internal/infra/dispatch"
	"github.com/tsuchiya2/storypipe/internal/infra/summarizer"
	"github.com/tsuchiya2/storypipe/internal/job"
	"github.com/tsuchiya2/storypipe/internal/queue"
	"github.com/tsuchiya2/storypipe/internal/repository"
	"github.com/tsuchiya2/storypipe/internal/usecase/embed"
)

const (
	queueSummarizerIn    = "summarizer:in"
	queueSummarizerOut   = "summarizer:out"
	queueSummarizerRetry = "summarizer:retry"
	queueSummarizerDLQ   = "summarizer:dlq"
)

// pollTimeout bounds idle polling the same way internal/usecase/scrape's does.
const pollTimeout = 5 * time.Second

// Config controls the orchestration's identity and retry ceiling.
type Config struct {
	Model      string
	MaxRetries int
}

// DefaultConfig returns spec.md §6's summariser row: MAX_RETRIES=3.
func DefaultConfig(model string) Config {
	return Config{Model: model, MaxRetries: 3}
}

// Service wires C8's Engine into the summariser queue lifecycle.
type Service struct {
	queue       *queue.Queue
	engine      *summarizer.Engine
	summaryRepo repository.SummaryRepository
	cfg         Config
	logger      *slog.Logger
	metrics     *Metrics
}

// New constructs a Service.
func New(q *queue.Queue, engine *summarizer.Engine, summaryRepo repository.SummaryRepository, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queue: q, engine: engine, summaryRepo: summaryRepo, cfg: cfg, logger: logger, metrics: NewMetrics()}
}

// Run polls summarizer:in and summarizer:retry until ctx is cancelled. Per
// the Open Question decision recorded in DESIGN.md, this runs indefinitely
// until shutdown; there is no development iteration cap.
func (s *Service) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		queueName, payload, err := s.queue.PopBlocking(ctx, []string{queueSummarizerIn, queueSummarizerRetry}, pollTimeout)
		if err == queue.ErrTimeout {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("summarize: pop failed", slog.Any("error", err))
			continue
		}
		s.handleRaw(ctx, queueName, payload)
	}
}

func (s *Service) handleRaw(ctx context.Context, queueName string, raw []byte) {
	if queueName == queueSummarizerRetry {
		var rj job.RetryJob
		if err := job.Unmarshal(raw, &rj); err != nil {
			s.dlq(ctx, "bad_payload", raw, err)
			return
		}
		requeued, err := s.queue.RequeueIfNotVisible(ctx, queueSummarizerRetry, raw, rj.VisibleAt)
		if err != nil {
			s.logger.Error("summarize: requeue visibility check failed", slog.Any("error", err))
			return
		}
		if requeued {
			return
		}
		var in job.SummariserIn
		if err := job.Unmarshal(rj.Payload, &in); err != nil {
			s.dlq(ctx, "bad_payload", rj.Payload, err)
			return
		}
		in.Attempt = rj.Attempt
		s.process(ctx, in)
		return
	}

	var in job.SummariserIn
	if err := job.Unmarshal(raw, &in); err != nil {
		s.dlq(ctx, "bad_payload", raw, err)
		return
	}
	s.process(ctx, in)
}

// process runs one job through validation, the LLM call, persistence, and
// emission, per spec.md §4.7.
func (s *Service) process(ctx context.Context, in job.SummariserIn) {
	if err := summarizer.ValidateInput(in); err != nil {
		s.dlq(ctx, string(job.KindSchemaMismatch), mustMarshal(in), err)
		return
	}
	s.metrics.RecordState("validated")

	req := summarizer.RequestFromJob(in)
	result, claimed, err := s.engine.Summarize(ctx, req)
	if err != nil {
		s.dispositionEngineError(ctx, in, err)
		return
	}
	if !claimed {
		// Another worker already summarised this (article_id, model): the
		// at-most-one semantics of spec.md's idempotency scenario require
		// silently dropping the duplicate, not retrying or DLQing it.
		s.metrics.RecordState("deduped")
		return
	}
	s.metrics.RecordState("summarized")

	articleID, parseErr := strconv.ParseInt(in.Article.ID, 10, 64)
	if parseErr != nil {
		s.dlq(ctx, string(job.KindSchemaMismatch), mustMarshal(in), parseErr)
		return
	}

	if err := s.persist(ctx, articleID, in.Article.Language, result); err != nil {
		s.retry(ctx, in, job.KindDBError, err)
		return
	}
	s.metrics.RecordState("persisted")

	s.enqueueFollowOns(ctx, in, articleID, result)

	out := buildOut(in, s.cfg.Model, result)
	if err := s.queue.PushHeadJSON(ctx, queueSummarizerOut, out); err != nil {
		s.retry(ctx, in, job.KindRedisOut, err)
		return
	}
	s.metrics.RecordState("emitted")
}

// dispositionEngineError classifies an Engine.Summarize failure into the
// retry reason carried on the RetryJob; every kind the Engine can return is
// retryable per job.ErrorKind.Retryable(), so this only picks the label.
func (s *Service) dispositionEngineError(ctx context.Context, in job.SummariserIn, err error) {
	switch {
	case errors.Is(err, job.ErrLLMTimeout):
		s.retry(ctx, in, job.KindLLMTimeout, err)
	case errors.Is(err, job.ErrJSONParse):
		s.retry(ctx, in, job.KindJSONParse, err)
	case errors.Is(err, job.ErrRedisOut):
		s.retry(ctx, in, job.KindRedisOut, err)
	default:
		s.retry(ctx, in, job.KindUnknown, err)
	}
}

func (s *Service) persist(ctx context.Context, articleID int64, lang string, result summarizer.Result) error {
	linkProps, err := json.Marshal(result.UI.LinkProps)
	if err != nil {
		linkProps = nil
	}
	summary := &entity.Summary{
		ArticleID:       articleID,
		Model:           s.cfg.Model,
		Lang:            lang,
		Summary:         result.Summary,
		PrimaryCategory: nullString(result.Classification.PrimaryCategory),
		Type:            nullString(result.Classification.Type),
		Tags:            result.Classification.Tags,
		Topics:          result.Classification.Topics,
		Summary140:      nullString(result.UI.Summary140),
		Quicktake:       nullString(result.UI.Quicktake),
		Audience:        result.UI.Audience,
		ImpactScore:     nullInt(int64(result.UI.ImpactScore)),
		Confidence:      sql.NullFloat64{Float64: result.UI.Confidence, Valid: true},
		ReadingTimeMin:  nullInt(int64(result.UI.ReadingTimeMin)),
		LinkProps:       nullString(string(linkProps)),
		SummarizedAt:    time.Now().UTC(),
	}
	return s.summaryRepo.Replace(ctx, summary)
}

// enqueueFollowOns pushes the EMBED and TAG dispatcher jobs a successful
// summary enables, per spec.md §4.8's SUMMARIZE-success follow-on note
// (SPEC_FULL.md C13). Both are best-effort enrichment: a push failure is
// logged, not retried, so it can never block the summarizer:out hand-off.
func (s *Service) enqueueFollowOns(ctx context.Context, in job.SummariserIn, articleID int64, result summarizer.Result) {
	content := in.Article.TextHead + in.Article.TextTail
	embedEnv := dispatch.Envelope{TraceID: in.TraceID, Payload: mustMarshal(embed.Payload{
		ArticleID: articleID,
		Title:     in.Story.Title,
		URL:       in.Story.URL,
		Content:   content,
	})}
	if err := s.queue.PushTailJSON(ctx, string(dispatch.Embed), embedEnv); err != nil {
		s.logger.Error("summarize: embed follow-on enqueue failed", slog.Any("error", err))
	}

	if len(result.Classification.Tags) > 0 || len(result.Classification.Topics) > 0 {
		tagEnv := dispatch.Envelope{TraceID: in.TraceID, Payload: mustMarshal(embed.TagPayload{
			ArticleID: articleID,
			Model:     s.cfg.Model,
			Tags:      result.Classification.Tags,
			Topics:    result.Classification.Topics,
		})}
		if err := s.queue.PushTailJSON(ctx, string(dispatch.Tag), tagEnv); err != nil {
			s.logger.Error("summarize: tag follow-on enqueue failed", slog.Any("error", err))
		}
	}
}

// retry re-enqueues to summarizer:retry with an incremented attempt and
// exponential backoff matching spec.md §4.9's family (2^attempt*1000ms), or
// DLQs once MaxRetries is reached.
func (s *Service) retry(ctx context.Context, in job.SummariserIn, reason job.ErrorKind, cause error) {
	attempt := in.Attempt + 1
	if attempt >= s.cfg.MaxRetries {
		s.dlq(ctx, string(reason), mustMarshal(in), cause)
		return
	}

	delay := backoffFor(attempt)
	rj := job.RetryJob{
		TraceID:   in.TraceID,
		Payload:   mustMarshal(in),
		Attempt:   attempt,
		VisibleAt: time.Now().Add(delay).UnixMilli(),
		Queue:     queueSummarizerIn,
		Reason:    string(reason),
	}
	if err := s.queue.PushTailJSON(ctx, queueSummarizerRetry, rj); err != nil {
		s.logger.Error("summarize: retry enqueue failed", slog.Any("error", err))
	}
	s.metrics.RecordState("requeued")
}

// backoffFor mirrors the scraper orchestration's visibility-delay formula
// (spec.md §4.9); the summariser's own in-engine retry policy (§4.7) is a
// separate, tighter loop already run inside Engine.Summarize.
func backoffFor(attempt int) time.Duration {
	base := float64(uint64(1)<<uint(attempt)) * 1000.0
	return time.Duration(base) * time.Millisecond
}

func (s *Service) dlq(ctx context.Context, reason string, payload []byte, cause error) {
	entry := job.DLQEntry{
		Reason:   reason,
		Err:      errString(cause),
		Payload:  payload,
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.queue.PushTailJSON(ctx, queueSummarizerDLQ, entry); err != nil {
		s.logger.Error("summarize: dlq push failed", slog.Any("error", err))
		return
	}
	s.metrics.RecordState("dlq")
}

func buildOut(in job.SummariserIn, model string, result summarizer.Result) job.SummariserOut {
	impact := float64(result.UI.ImpactScore)
	confidence := result.UI.Confidence
	readingTime := result.UI.ReadingTimeMin
	return job.SummariserOut{
		TraceID:   in.TraceID,
		StoryID:   in.Story.ID,
		ArticleID: in.Article.ID,
		Model:     model,
		Lang:      in.Article.Language,
		Summary:   result.Summary,
		Classification: job.Classification{
			PrimaryCategory: result.Classification.PrimaryCategory,
			Type:            result.Classification.Type,
			Tags:            result.Classification.Tags,
			Topics:          result.Classification.Topics,
		},
		UI: job.UI{
			Summary140:     result.UI.Summary140,
			Quicktake:      result.UI.Quicktake,
			Audience:       result.UI.Audience,
			ImpactScore:    &impact,
			Confidence:     &confidence,
			ReadingTimeMin: &readingTime,
			LinkProps: &job.LinkProps{
				Paywall: result.UI.LinkProps.Paywall,
				Format:  result.UI.LinkProps.Format,
				IsPDF:   result.UI.LinkProps.IsPDF,
			},
		},
		Timestamps:    job.Timestamps{SummarizedAt: time.Now().UTC().Format(time.RFC3339)},
		SchemaVersion: job.SchemaVersion,
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
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
