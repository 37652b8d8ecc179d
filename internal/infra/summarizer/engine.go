// Package summarizer provides AI-powered text summarization implementations.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tsuchiya2/storypipe/internal/idempotency"
	"github.com/tsuchiya2/storypipe/internal/job"
	"github.com/tsuchiya2/storypipe/internal/resilience/retry"
)

// Provider is the schema-bound completion contract Claude and OpenAI both
// satisfy via their Complete method: a system/user prompt pair in, raw
// model text out. It is deliberately narrower than the prose-oriented
// Summarizer interface — the Engine owns prompt construction and retries.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// systemPrompt is the fixed instruction per spec.md §4.7: "an expert at
// structured data extraction".
const systemPrompt = `You are an expert at structured data extraction. Given an article, respond with a single JSON object matching this shape exactly, with no prose before or after it:
{"summary":"...","classification":{"primary_category":"...","type":"news|article|discussion|research|other","tags":["..."],"topics":["..."]},"ui":{"summary_140":"...","quicktake":"...","audience":["..."],"impact_score":0,"confidence":0.0,"reading_time_min":0,"link_props":{"paywall":false,"format":"...","is_pdf":false}}}
Every field is optional except "summary". Omit fields you cannot determine rather than guessing.`

// Engine adapts a Provider to the schema-bounded contract of spec.md §4.7:
// idempotency pre-claim, bounded 3-attempt backoff starting at 0.5s, and
// output assembly/validation.
type Engine struct {
	provider Provider
	model    string
	idem     *idempotency.Registry
	retryCfg retry.Config
}

// NewEngine constructs an Engine. model identifies the provider/model pair
// for idempotency keying (spec.md §6: `summarizer:done:{article_id}:{model}`).
func NewEngine(provider Provider, model string, idem *idempotency.Registry) *Engine {
	return &Engine{
		provider: provider,
		model:    model,
		idem:     idem,
		retryCfg: retry.SummarizerSchemaConfig(),
	}
}

// Summarize runs the full pre-claim → LLM call → validate pipeline for one
// article. claimed reports whether this call actually performed the work;
// false means another worker already finished this (article_id, model) pair
// and the job should be dropped per spec.md §4.7's idempotency rule.
func (e *Engine) Summarize(ctx context.Context, req Request) (result Result, claimed bool, err error) {
	key := idempotency.SummarizerDoneKey(req.ArticleID, e.model)
	claimed, err = e.idem.Claim(ctx, key, idempotency.DefaultTTL)
	if err != nil {
		return Result{}, false, fmt.Errorf("%w: %v", job.ErrRedisOut, err)
	}
	if !claimed {
		return Result{}, false, nil
	}

	result, err = e.call(ctx, req)
	return result, true, err
}

// call implements spec.md §4.7's retry policy directly: up to three attempts,
// backoff starting at 0.5s and doubling, on any LLM-classified error; a
// non-LLM error (here: none arise before the HTTP boundary) would break
// immediately, but every failure path below is itself an LLM error by
// definition (transport failure, timeout, or malformed JSON response).
func (e *Engine) call(ctx context.Context, req Request) (Result, error) {
	userPayload := buildUserPayload(req)

	delay := e.retryCfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= e.retryCfg.MaxAttempts; attempt++ {
		result, callErr := e.attempt(ctx, userPayload)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if attempt == e.retryCfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %v", job.ErrLLMTimeout, ctx.Err())
		}
		delay *= time.Duration(e.retryCfg.Multiplier)
		if delay > e.retryCfg.MaxDelay {
			delay = e.retryCfg.MaxDelay
		}
	}
	return Result{}, lastErr
}

func (e *Engine) attempt(ctx context.Context, userPayload string) (Result, error) {
	raw, err := e.provider.Complete(ctx, systemPrompt, userPayload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %v", job.ErrLLMTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: %v", job.ErrUnknown, err)
	}

	var parsed rawResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v", job.ErrJSONParse, err)
	}

	result := assembleResult(parsed)
	if result.Summary == "" {
		return Result{}, fmt.Errorf("%w: model returned no summary", job.ErrJSONParse)
	}
	return result, nil
}

// extractJSON trims surrounding prose/code fences a model may add despite
// instructions, returning the substring from the first '{' to the last '}'.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}

// buildUserPayload assembles the bounded fields spec.md §4.7 allows across
// the prompt boundary, as compact JSON.
func buildUserPayload(req Request) string {
	payload := struct {
		Title         string         `json:"title"`
		Domain        string         `json:"domain"`
		URL           string         `json:"url"`
		Language      string         `json:"language"`
		IsPDF         bool           `json:"is_pdf"`
		IsPaywalled   bool           `json:"is_paywalled"`
		Headings      []string       `json:"headings,omitempty"`
		TextHead      string         `json:"text_head"`
		TextTail      string         `json:"text_tail"`
		HNMetrics     map[string]any `json:"hn_metrics,omitempty"`
		CandidateTags []string       `json:"candidate_tags,omitempty"`
	}{
		Title: req.Title, Domain: req.Domain, URL: req.URL, Language: req.Language,
		IsPDF: req.IsPDF, IsPaywalled: req.IsPaywalled, Headings: req.Headings,
		TextHead: req.TextHead, TextTail: req.TextTail, HNMetrics: req.HNMetrics,
		CandidateTags: req.CandidateTags,
	}
	b, _ := json.Marshal(payload)
	return string(b)
}
