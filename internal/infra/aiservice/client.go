// Package aiservice implements ai.AIProvider over the companion AI
// service's HTTP API. It carries the same reliability shape the teacher
// uses for Claude/OpenAI (internal/infra/summarizer): a circuit breaker
// per external dependency, per-method timeouts loaded from config.AIConfig,
// and Prometheus request/latency metrics.
package aiservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tsuchiya2/storypipe/internal/config"
	"github.com/tsuchiya2/storypipe/internal/resilience/circuitbreaker"
	"github.com/tsuchiya2/storypipe/internal/usecase/ai"
)

// Client implements ai.AIProvider by calling the AI service's HTTP API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	timeouts       config.TimeoutConfig
	logger         *slog.Logger
}

// New creates an HTTP-backed AIProvider from the given configuration.
func New(cfg *config.AIConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.ServiceAddress,
		httpClient: &http.Client{
			Timeout: cfg.ConnectionTimeout,
		},
		circuitBreaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "ai-service",
			MaxRequests:      cfg.CircuitBreaker.MaxRequests,
			Interval:         cfg.CircuitBreaker.Interval,
			Timeout:          cfg.CircuitBreaker.Timeout,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			MinRequests:      cfg.CircuitBreaker.MinRequests,
		}),
		timeouts: cfg.Timeouts,
		logger:   logger,
	}
}

// embedRequestWire / embedResponseWire and friends mirror the AI service's
// JSON contract. They stay unexported: AIProvider callers only ever see the
// usecase-level request/response types in internal/usecase/ai.

type embedRequestWire struct {
	ArticleID int64  `json:"article_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	URL       string `json:"url"`
}

type embedResponseWire struct {
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Dimension    int32     `json:"dimension"`
	Embedding    []float32 `json:"embedding,omitempty"`
	ModelKey     string    `json:"model_key,omitempty"`
}

func (c *Client) EmbedArticle(ctx context.Context, req ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if req.ArticleID <= 0 {
		return nil, fmt.Errorf("aiservice: article_id must be positive")
	}
	if req.Content == "" {
		return nil, fmt.Errorf("aiservice: content must not be empty")
	}

	var out embedResponseWire
	err := c.call(ctx, "embed", c.timeouts.EmbedArticle, embedRequestWire{
		ArticleID: req.ArticleID,
		Title:     req.Title,
		Content:   req.Content,
		URL:       req.URL,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &ai.EmbedResponse{
		Success:      out.Success,
		ErrorMessage: out.ErrorMessage,
		Dimension:    out.Dimension,
		Embedding:    out.Embedding,
		ModelKey:     out.ModelKey,
	}, nil
}

type searchRequestWire struct {
	Query         string  `json:"query"`
	Limit         int32   `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
}

type searchResponseWire struct {
	Articles      []similarArticleWire `json:"articles"`
	TotalSearched int64                `json:"total_searched"`
}

type similarArticleWire struct {
	ArticleID  int64   `json:"article_id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Similarity float32 `json:"similarity"`
	Excerpt    string  `json:"excerpt"`
}

func (c *Client) SearchSimilar(ctx context.Context, req ai.SearchRequest) (*ai.SearchResponse, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("aiservice: query must not be empty")
	}

	var out searchResponseWire
	err := c.call(ctx, "search", c.timeouts.SearchSimilar, searchRequestWire{
		Query:         req.Query,
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	}, &out)
	if err != nil {
		return nil, err
	}

	articles := make([]ai.SimilarArticle, len(out.Articles))
	for i, a := range out.Articles {
		articles[i] = ai.SimilarArticle{
			ArticleID:  a.ArticleID,
			Title:      a.Title,
			URL:        a.URL,
			Similarity: a.Similarity,
			Excerpt:    a.Excerpt,
		}
	}
	return &ai.SearchResponse{Articles: articles, TotalSearched: out.TotalSearched}, nil
}

type queryRequestWire struct {
	Question   string `json:"question"`
	MaxContext int32  `json:"max_context"`
}

type queryResponseWire struct {
	Answer     string             `json:"answer"`
	Sources    []sourceArticleWire `json:"sources"`
	Confidence float32            `json:"confidence"`
}

type sourceArticleWire struct {
	ArticleID int64   `json:"article_id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Relevance float32 `json:"relevance"`
}

func (c *Client) QueryArticles(ctx context.Context, req ai.QueryRequest) (*ai.QueryResponse, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("aiservice: question must not be empty")
	}

	var out queryResponseWire
	err := c.call(ctx, "query", c.timeouts.QueryArticles, queryRequestWire{
		Question:   req.Question,
		MaxContext: req.MaxContext,
	}, &out)
	if err != nil {
		return nil, err
	}

	sources := make([]ai.SourceArticle, len(out.Sources))
	for i, s := range out.Sources {
		sources[i] = ai.SourceArticle{ArticleID: s.ArticleID, Title: s.Title, URL: s.URL, Relevance: s.Relevance}
	}
	return &ai.QueryResponse{Answer: out.Answer, Sources: sources, Confidence: out.Confidence}, nil
}

type summaryRequestWire struct {
	Period        int32 `json:"period"`
	MaxHighlights int32 `json:"max_highlights"`
}

type summaryResponseWire struct {
	Summary      string            `json:"summary"`
	Highlights   []highlightWire   `json:"highlights"`
	ArticleCount int32             `json:"article_count"`
	StartDate    string            `json:"start_date"`
	EndDate      string            `json:"end_date"`
}

type highlightWire struct {
	Topic        string `json:"topic"`
	Description  string `json:"description"`
	ArticleCount int32  `json:"article_count"`
}

func (c *Client) GenerateSummary(ctx context.Context, req ai.SummaryRequest) (*ai.SummaryResponse, error) {
	if req.Period == ai.SummaryPeriodUnspecified {
		return nil, fmt.Errorf("aiservice: period must be specified")
	}

	var out summaryResponseWire
	err := c.call(ctx, "summary", c.timeouts.GenerateSummary, summaryRequestWire{
		Period:        int32(req.Period),
		MaxHighlights: req.MaxHighlights,
	}, &out)
	if err != nil {
		return nil, err
	}

	highlights := make([]ai.Highlight, len(out.Highlights))
	for i, h := range out.Highlights {
		highlights[i] = ai.Highlight{Topic: h.Topic, Description: h.Description, ArticleCount: h.ArticleCount}
	}
	return &ai.SummaryResponse{
		Summary:      out.Summary,
		Highlights:   highlights,
		ArticleCount: out.ArticleCount,
		StartDate:    out.StartDate,
		EndDate:      out.EndDate,
	}, nil
}

func (c *Client) Health(ctx context.Context) (*ai.HealthStatus, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("aiservice: build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &ai.HealthStatus{Healthy: false, Latency: latency, Message: err.Error(), CircuitOpen: c.circuitBreaker.IsOpen()}, nil
	}
	defer resp.Body.Close()

	return &ai.HealthStatus{
		Healthy:     resp.StatusCode == http.StatusOK,
		Latency:     latency,
		Message:     resp.Status,
		CircuitOpen: c.circuitBreaker.IsOpen(),
	}, nil
}

// Close releases idle connections held by the underlying HTTP client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// call executes a JSON POST against path through the circuit breaker,
// recording Prometheus metrics for every attempt.
func (c *Client) call(ctx context.Context, path string, timeout time.Duration, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doCall(ctx, path, body, out)
	})
	duration := time.Since(start)
	circuitState.WithLabelValues(path).Set(circuitStateValue(c.circuitBreaker))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			c.logger.Warn("ai service circuit breaker open, request rejected",
				slog.String("path", path))
			requestsTotal.WithLabelValues(path, "circuit_open").Inc()
			return fmt.Errorf("aiservice: %s unavailable: circuit breaker open", path)
		}
		requestsTotal.WithLabelValues(path, "error").Inc()
		requestDuration.WithLabelValues(path).Observe(duration.Seconds())
		return err
	}

	requestsTotal.WithLabelValues(path, "success").Inc()
	requestDuration.WithLabelValues(path).Observe(duration.Seconds())
	_ = result
	return nil
}

func (c *Client) doCall(ctx context.Context, path string, body, out interface{}) (interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("aiservice: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/"+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("aiservice: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aiservice: %s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aiservice: read %s response: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aiservice: %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, fmt.Errorf("aiservice: decode %s response: %w", path, err)
	}
	return out, nil
}

func circuitStateValue(cb *circuitbreaker.CircuitBreaker) float64 {
	if cb.IsOpen() {
		return 1
	}
	return 0
}
