package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/tsuchiya2/storypipe/internal/job"
)

// HeadlessConfig controls the scripted-browser fallback path of spec.md
// §4.3. Disabled by default-off via HEADLESS_ENABLED so environments
// without a Chrome binary available still run.
type HeadlessConfig struct {
	Enabled bool
	Timeout time.Duration
}

// DefaultHeadlessConfig matches spec.md §6's HEADLESS_ENABLED=true,
// HEADLESS_TIMEOUT_MS=20000 defaults.
func DefaultHeadlessConfig() HeadlessConfig {
	return HeadlessConfig{Enabled: true, Timeout: 20 * time.Second}
}

// HeadlessFetcher drives a real scripted Chrome instance for pages that
// block the direct HTTP path or depend on client-side rendering.
type HeadlessFetcher struct {
	config HeadlessConfig
	logger *slog.Logger
}

// NewHeadlessFetcher constructs a HeadlessFetcher.
func NewHeadlessFetcher(config HeadlessConfig, logger *slog.Logger) *HeadlessFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadlessFetcher{config: config, logger: logger}
}

// Fetch loads url in a scripted headless Chrome, blocks image/media/font
// requests, disables the navigator.webdriver tell, performs a paced scroll,
// and returns the rendered HTML. Per spec.md §4.3, failures return a nil
// result with no error so the caller decides retry vs. DLQ — only
// cancellation/setup errors are surfaced as real errors.
func (h *HeadlessFetcher) Fetch(ctx context.Context, urlStr string) (*Result, error) {
	if !h.config.Enabled {
		return nil, nil
	}

	// Each call acquires its own allocator/browser/context/page triple and
	// releases all three on every exit path, per spec.md §9's "scoped
	// acquisition primitives" design note.
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	runCtx, runCancel := context.WithTimeout(browserCtx, h.config.Timeout)
	defer runCancel()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetBlockedURLS([]string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.woff", "*.woff2", "*.mp4", "*.mp3"}).Do(ctx)
		}),
		chromedp.Navigate(urlStr),
		chromedp.Evaluate(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`, nil),
		chromedp.ActionFunc(pacedScroll),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if runCtx.Err() != nil {
			// Timeout/cancellation: treat as "no result", matching
			// spec.md §4.3's "headless failures return no result".
			h.logger.Warn("headless fetch timed out", slog.String("url", urlStr), slog.Any("error", err))
			return nil, nil
		}
		h.logger.Warn("headless fetch failed", slog.String("url", urlStr), slog.Any("error", err))
		return nil, nil
	}

	if html == "" {
		return nil, nil
	}

	return &Result{
		FinalURL:    urlStr,
		ContentType: "text/html",
		Body:        []byte(html),
	}, nil
}

// pacedScroll performs the ~2400px scroll in 250ms steps spec.md §4.3
// describes, to trigger lazy-loaded content before capture.
func pacedScroll(ctx context.Context) error {
	const totalPx = 2400
	const stepPx = 400
	const stepDelay = 250 * time.Millisecond

	for scrolled := 0; scrolled < totalPx; scrolled += stepPx {
		if err := chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", stepPx), nil).Do(ctx); err != nil {
			return err
		}
		select {
		case <-time.After(stepDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// FallbackPolicy implements spec.md §4.3's pipeline fallback policy as a
// pure decision function, kept separate from I/O for testability.
func FallbackPolicy(directErr error, headlessEnabled bool) (useHeadless bool, dlqReason job.ErrorKind) {
	if directErr == nil {
		return false, ""
	}
	switch {
	case isRetryable(directErr):
		return headlessEnabled, job.KindFetchRetry
	default:
		return false, job.KindFetchNonRetry
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, job.ErrFetchRetry)
}
