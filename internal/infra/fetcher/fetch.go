package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/tsuchiya2/storypipe/internal/job"
	"github.com/tsuchiya2/storypipe/internal/resilience/circuitbreaker"
)

// Result is the 4-tuple fetch(url) returns on success, per spec.md §4.3.
type Result struct {
	FinalURL    string
	ContentType string
	Body        []byte
	Headers     http.Header
}

// defaultUserAgents is the rotation pool used when USER_AGENT is unset,
// grounded on the teacher's single hard-coded "CatchUpFeedBot/1.0" UA but
// widened into a small realistic-browser pool per spec.md §4.3.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// retryableStatusSet is the explicit status set spec.md §4.3 calls out as
// "transient / rate-limit / edge-block" even though it's nominally a 4xx.
var retryableStatusSet = map[int]bool{
	401: true, 403: true, 406: true, 408: true,
	409: true, 412: true, 429: true, 451: true,
}

// Classify maps an HTTP status code to retryable/non-retryable per
// spec.md §4.3. 2xx/3xx are not failures and are not passed here.
func Classify(status int) error {
	if status >= 500 && status < 600 {
		return fmt.Errorf("%w: http %d", job.ErrFetchRetry, status)
	}
	if retryableStatusSet[status] {
		return fmt.Errorf("%w: http %d", job.ErrFetchRetry, status)
	}
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: http %d", job.ErrFetchNonRetry, status)
	}
	return nil
}

// RawFetcher performs the direct-HTTP fetch path: realistic headers, UA
// rotation, HTTP/2, TLS1.2+, redirect validation, size limiting, and a
// circuit breaker — the same protections readability.go already applies,
// split here from extraction since C4 and C5 are now separate components.
type RawFetcher struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	config         ContentFetchConfig
	userAgent      string
	uaIndex        atomic.Uint32
}

// NewRawFetcher builds a RawFetcher. userAgent, when non-empty, pins a
// single UA; otherwise each call round-robins the default pool.
func NewRawFetcher(config ContentFetchConfig, userAgent string) *RawFetcher {
	cb := circuitbreaker.New(circuitbreaker.Config{
		Name:             "raw-fetch",
		MaxRequests:      5,
		Interval:         60 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	})

	f := &RawFetcher{circuitBreaker: cb, config: config, userAgent: userAgent}

	f.client = &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ForceAttemptHTTP2:     true,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.config.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", job.ErrFetchRetry, len(via))
			}
			if err := validateURL(req.URL.String(), f.config.DenyPrivateIPs); err != nil {
				return fmt.Errorf("redirect target validation failed: %w", err)
			}
			return nil
		},
	}
	return f
}

func (f *RawFetcher) nextUserAgent() string {
	if f.userAgent != "" {
		return f.userAgent
	}
	i := f.uaIndex.Add(1) - 1
	return defaultUserAgents[int(i)%len(defaultUserAgents)]
}

// Fetch executes the direct HTTP path described in spec.md §4.3: follows
// redirects, sends browser-like headers, honours fetch_timeout_ms, and
// classifies any non-2xx response into Retryable/NonRetryable.
func (f *RawFetcher) Fetch(ctx context.Context, urlStr string) (*Result, error) {
	if err := validateURL(urlStr, f.config.DenyPrivateIPs); err != nil {
		return nil, err
	}

	res, err := f.circuitBreaker.Execute(func() (interface{}, error) {
		return f.doFetch(ctx, urlStr)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Result), nil
}

func (f *RawFetcher) doFetch(ctx context.Context, urlStr string) (*Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: build request: %w", err)
	}
	setBrowserHeaders(req, f.nextUserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: request exceeded %v", job.ErrFetchRetry, f.config.Timeout)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Err != nil {
			return nil, urlErr.Err
		}
		return nil, fmt.Errorf("%w: %v", job.ErrFetchRetry, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if classifyErr := Classify(resp.StatusCode); classifyErr != nil {
		return nil, classifyErr
	}

	limited := io.LimitReader(resp.Body, f.config.MaxBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", job.ErrFetchRetry, err)
	}
	if int64(len(body)) > f.config.MaxBodySize {
		return nil, fmt.Errorf("%w: response size %d exceeds limit %d", job.ErrFetchRetry, len(body), f.config.MaxBodySize)
	}

	finalURL := urlStr
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		FinalURL:    finalURL,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Headers:     resp.Header,
	}, nil
}

// setBrowserHeaders applies the realistic header set spec.md §4.3 requires.
func setBrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// jitteredDelay returns the exponential retry backoff for attempt n,
// spec.md §4.9: delay_ms = 2^attempt * 1000 * uniform(1.0, 1.25).
func jitteredDelay(attempt int) time.Duration {
	base := float64(uint64(1)<<uint(attempt)) * 1000.0
	jitter := 1.0 + rand.Float64()*0.25
	return time.Duration(base*jitter) * time.Millisecond
}

// RetryBackoff is exported for the scraper orchestration (C11) and for
// tests verifying invariant 9.
func RetryBackoff(attempt int) time.Duration {
	return jitteredDelay(attempt)
}
