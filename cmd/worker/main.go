package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"

	"github.com/tsuchiya2/storypipe/internal/config"
	hhttp "github.com/tsuchiya2/storypipe/internal/handler/http/respond"
	pgRepo "github.com/tsuchiya2/storypipe/internal/infra/adapter/persistence/postgres"
	"github.com/tsuchiya2/storypipe/internal/infra/aiservice"
	"github.com/tsuchiya2/storypipe/internal/infra/db"
	"github.com/tsuchiya2/storypipe/internal/infra/dispatch"
	"github.com/tsuchiya2/storypipe/internal/infra/notifier"
	"github.com/tsuchiya2/storypipe/internal/infra/scraper"
	workerPkg "github.com/tsuchiya2/storypipe/internal/infra/worker"
	"github.com/tsuchiya2/storypipe/internal/queue"
	"github.com/tsuchiya2/storypipe/internal/repository"
	aiUC "github.com/tsuchiya2/storypipe/internal/usecase/ai"
	"github.com/tsuchiya2/storypipe/internal/usecase/embed"
	fetchUC "github.com/tsuchiya2/storypipe/internal/usecase/fetch"
	"github.com/tsuchiya2/storypipe/internal/usecase/notify"
	"github.com/tsuchiya2/storypipe/internal/usecase/rank"
)

func waitForMigrations(logger *slog.Logger, db *sql.DB) {
	const probe = "SELECT 1 FROM sources LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := db.Exec(probe); err == nil {
			return
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		time.Sleep(3 * time.Second)
	}
	logger.Error("migrations did not complete in time")
	os.Exit(1)
}

func main() {
	logger := initLogger()
	database := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load worker configuration (fail-open strategy)
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.MustRegister()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.String("cron_schedule", workerConfig.CronSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Int("notify_max_concurrent", workerConfig.NotifyMaxConcurrent),
		slog.Duration("crawl_timeout", workerConfig.CrawlTimeout),
		slog.Int("health_port", workerConfig.HealthPort))

	// Initialize Discord notification channel
	discordConfig := loadDiscordConfig(logger)
	var discordChannel notify.Channel
	if discordConfig.Enabled {
		discordChannel = notify.NewDiscordChannel(discordConfig)
		logger.Info("Discord channel initialized", slog.String("status", "enabled"))
	} else {
		logger.Info("Discord channel disabled")
	}

	// Initialize Slack notification channel
	slackConfig := loadSlackConfig(logger)
	var slackChannel notify.Channel
	if slackConfig.Enabled {
		slackChannel = notify.NewSlackChannel(slackConfig)
		logger.Info("Slack channel initialized", slog.String("status", "enabled"))
	} else {
		logger.Info("Slack channel disabled")
	}

	// Initialize notification service (use workerConfig)
	var channels []notify.Channel
	if discordChannel != nil {
		channels = append(channels, discordChannel)
	}
	if slackChannel != nil {
		channels = append(channels, slackChannel)
	}

	notifyService := notify.NewService(channels, workerConfig.NotifyMaxConcurrent)
	logger.Info("Notification service initialized",
		slog.Int("channels", len(channels)),
		slog.Int("max_concurrent", workerConfig.NotifyMaxConcurrent))

	// Start metrics HTTP server
	startMetricsServer(ctx, logger, notifyService)

	// Start health check server
	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	ingestQueue, queueCleanup := setupIngestQueue(ctx, logger)
	defer queueCleanup()

	if ingestQueue == nil {
		logger.Error("ingest queue unavailable, discovery cron will not be scheduled")
		healthServer.SetReady(true)
		select {}
	}

	provider, aiCleanup := setupAIProvider(logger)
	defer aiCleanup()

	dispatcher := setupDispatcher(logger, database, ingestQueue, provider)
	go dispatcher.Run(ctx)
	logger.Info("dispatcher started", slog.String("queues", "EMBED, TAG, REFRESH_HN_STATS"))

	svc := setupFetchService(logger, database, ingestQueue)
	articleRepo := pgRepo.NewArticleRepo(database)
	startCronWorker(ctx, logger, svc, ingestQueue, articleRepo, workerConfig, workerMetrics, healthServer)
}

// initLogger initializes and returns a structured logger based on environment configuration.
func initLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the database connection and waits for migrations to complete.
func initDatabase(logger *slog.Logger) *sql.DB {
	database := db.Open()
	waitForMigrations(logger, database)
	return database
}

// setupFetchService creates and configures the discovery service with all
// dependencies. It only discovers candidate story URLs and enqueues them on
// ingest:out; fetching article content and summarising happen downstream in
// usecase/scrape.Service and usecase/summarize.Service. Returns the service
// and a cleanup function for graceful shutdown.
func setupFetchService(logger *slog.Logger, database *sql.DB, ingestQueue fetchUC.Enqueuer) fetchUC.Service {
	srcRepo := pgRepo.NewSourceRepo(database)
	storyRepo := pgRepo.NewStoryRepo(database)

	httpClient := createHTTPClient()
	feedFetcher := scraper.NewRSSFetcher(httpClient)

	// Create web scraper HTTP client with SSRF protection
	webScraperClient := createWebScraperHTTPClient()

	// Create web scraper factory and generate scrapers
	scraperFactory := scraper.NewScraperFactory(webScraperClient)
	webScrapers := scraperFactory.CreateScrapers()
	logger.Info("Web scrapers initialized",
		slog.Int("count", len(webScrapers)))

	return fetchUC.NewService(srcRepo, storyRepo, feedFetcher, webScrapers, ingestQueue)
}

// setupIngestQueue connects to Redis for pushing discovered stories onto
// ingest:out. Returns nil if REDIS_URL is unset or unreachable; the caller
// treats a nil queue as "discovery disabled" rather than failing startup,
// since the worker's cron schedule may run with AI/queue features gated off
// in local/dev environments.
func setupIngestQueue(ctx context.Context, logger *slog.Logger) (*queue.Queue, func()) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	q, err := queue.New(ctx, redisURL, logger)
	if err != nil {
		logger.Warn("failed to connect to redis, discovery disabled", slog.Any("error", err))
		return nil, func() {}
	}

	cleanup := func() {
		if err := q.Close(); err != nil {
			logger.Error("failed to close redis connection", slog.Any("error", err))
		}
	}
	return q, cleanup
}

// setupAIProvider loads the AI service configuration and returns the
// provider the Dispatcher's EMBED handler calls. It falls back to a noop
// provider (EMBED jobs fail fast with a clear error, never silently
// succeed) when AI is disabled or misconfigured, since the EMBED queue
// still needs a registered handler.
func setupAIProvider(logger *slog.Logger) (aiUC.AIProvider, func()) {
	aiConfig, err := config.LoadAIConfig()
	if err != nil {
		logger.Warn("failed to load AI configuration, AI features disabled", slog.Any("error", err))
		return aiservice.NewNoopAIProvider(), func() {}
	}
	if err := aiConfig.Validate(); err != nil {
		logger.Warn("invalid AI configuration, AI features disabled", slog.Any("error", err))
		return aiservice.NewNoopAIProvider(), func() {}
	}
	if !aiConfig.Enabled {
		logger.Info("AI features disabled via configuration")
		return aiservice.NewNoopAIProvider(), func() {}
	}

	provider := aiservice.New(aiConfig, logger)
	logger.Info("AI provider initialized", slog.String("service_address", aiConfig.ServiceAddress))

	cleanup := func() {
		if err := provider.Close(); err != nil {
			logger.Error("failed to close AI provider", slog.Any("error", err))
		}
	}
	return provider, cleanup
}

// setupDispatcher wires the generic Dispatcher (spec.md §4.8) with the
// EMBED, TAG and REFRESH_HN_STATS handlers (C13). FETCH_ARTICLE and
// SUMMARIZE have no handler here: those stages run as their own
// cmd/scraper and cmd/summarizer processes against dedicated queues.
func setupDispatcher(logger *slog.Logger, database *sql.DB, q *queue.Queue, provider aiUC.AIProvider) *dispatch.Dispatcher {
	embeddingRepo := pgRepo.NewArticleEmbeddingRepo(database)
	summaryRepo := pgRepo.NewSummaryRepo(database)

	handlers := map[dispatch.TaskKind]dispatch.Handler{
		dispatch.Embed:          embed.NewHandler(provider, embeddingRepo),
		dispatch.Tag:            embed.NewTagHandler(summaryRepo),
		dispatch.RefreshHNStats: rank.NewHandler(embeddingRepo, logger),
	}
	return dispatch.New(q, handlers, dispatch.DefaultMaxRetries, logger)
}

// createHTTPClient creates an HTTP client with timeouts and connection pooling.
// TLS 1.2+ is enforced for security.
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12, // Enforce TLS 1.2+
			},
		},
	}
}

// createWebScraperHTTPClient creates an HTTP client for web scraping with SSRF protection.
// It has shorter timeouts and validates redirects to prevent security issues.
func createWebScraperHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second, // Shorter timeout for scraping
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12, // Enforce TLS 1.2+
			},
		},
		// Redirect validation is handled by the scraper implementations
	}
}

// loadDiscordConfig loads Discord configuration from environment variables.
//
// Environment variables:
//   - DISCORD_ENABLED: Boolean flag to enable Discord notifications (default: false)
//   - DISCORD_WEBHOOK_URL: Discord webhook URL (required if enabled)
//
// Returns:
//   - notifier.DiscordConfig: Configuration with validation applied
func loadDiscordConfig(logger *slog.Logger) notifier.DiscordConfig {
	enabled := os.Getenv("DISCORD_ENABLED") == "true"
	webhookURL := os.Getenv("DISCORD_WEBHOOK_URL")

	if !enabled {
		return notifier.DiscordConfig{Enabled: false}
	}

	// Validate webhook URL format
	if webhookURL == "" {
		logger.Warn("Discord webhook URL is empty, disabling notifications")
		return notifier.DiscordConfig{Enabled: false}
	}

	u, err := url.Parse(webhookURL)
	if err != nil {
		logger.Warn("Invalid Discord webhook URL format, disabling notifications", slog.Any("error", err))
		return notifier.DiscordConfig{Enabled: false}
	}

	if u.Scheme != "https" {
		logger.Warn("Discord webhook URL must use HTTPS, disabling notifications")
		return notifier.DiscordConfig{Enabled: false}
	}

	if u.Host != "discord.com" {
		logger.Warn("Invalid Discord webhook host, disabling notifications", slog.String("host", u.Host))
		return notifier.DiscordConfig{Enabled: false}
	}

	if !strings.HasPrefix(u.Path, "/api/webhooks/") {
		logger.Warn("Invalid Discord webhook path, disabling notifications", slog.String("path", u.Path))
		return notifier.DiscordConfig{Enabled: false}
	}

	return notifier.DiscordConfig{
		Enabled:    true,
		WebhookURL: webhookURL,
		Timeout:    30 * time.Second,
	}
}

// loadSlackConfig loads Slack configuration from environment variables.
//
// Environment variables:
//   - SLACK_ENABLED: Boolean flag to enable Slack notifications (default: false)
//   - SLACK_WEBHOOK_URL: Slack webhook URL (required if enabled)
//
// Returns:
//   - notifier.SlackConfig: Configuration with validation applied
func loadSlackConfig(logger *slog.Logger) notifier.SlackConfig {
	enabled := os.Getenv("SLACK_ENABLED") == "true"
	webhookURL := os.Getenv("SLACK_WEBHOOK_URL")

	if !enabled {
		return notifier.SlackConfig{Enabled: false}
	}

	// Validate webhook URL format
	if webhookURL == "" {
		logger.Warn("Slack webhook URL is empty, disabling notifications")
		return notifier.SlackConfig{Enabled: false}
	}

	u, err := url.Parse(webhookURL)
	if err != nil {
		logger.Warn("Invalid Slack webhook URL format, disabling notifications", slog.Any("error", err))
		return notifier.SlackConfig{Enabled: false}
	}

	if u.Scheme != "https" {
		logger.Warn("Slack webhook URL must use HTTPS, disabling notifications")
		return notifier.SlackConfig{Enabled: false}
	}

	if u.Host != "hooks.slack.com" {
		logger.Warn("Invalid Slack webhook host, disabling notifications", slog.String("host", u.Host))
		return notifier.SlackConfig{Enabled: false}
	}

	if !strings.HasPrefix(u.Path, "/services/") {
		logger.Warn("Invalid Slack webhook path, disabling notifications", slog.String("path", u.Path))
		return notifier.SlackConfig{Enabled: false}
	}

	return notifier.SlackConfig{
		Enabled:    true,
		WebhookURL: webhookURL,
		Timeout:    30 * time.Second,
	}
}

// startCronWorker starts the cron scheduler and runs the crawl job
// periodically, plus an optional REFRESH_HN_STATS trigger (SPEC_FULL.md §9)
// when REFRESH_STATS_CRON_SCHEDULE is set. It blocks until ctx is cancelled.
func startCronWorker(ctx context.Context, logger *slog.Logger, svc fetchUC.Service, q *queue.Queue, articleRepo repository.ArticleRepository, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics, healthServer *workerPkg.HealthServer) {
	// Load timezone
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.CronSchedule, func() {
		runCrawlJob(logger, svc, cfg, metrics)
	})
	if err != nil {
		logger.Error("failed to add cron job", slog.Any("error", err))
		os.Exit(1)
	}

	if schedule := os.Getenv("REFRESH_STATS_CRON_SCHEDULE"); schedule != "" {
		refreshLimit := 50
		if _, err := c.AddFunc(schedule, func() {
			runRefreshStatsJob(ctx, logger, articleRepo, q, refreshLimit)
		}); err != nil {
			logger.Error("failed to add refresh-stats cron job", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("refresh-stats cron scheduled", slog.String("schedule", schedule))
	}

	c.Start()
	defer c.Stop()

	// Mark as ready after cron is set up
	healthServer.SetReady(true)
	logger.Info("worker marked as ready")

	logger.Info("worker started", slog.String("schedule", cfg.CronSchedule), slog.String("timezone", cfg.Timezone))
	<-ctx.Done()
	logger.Info("worker shutting down")
}

// runRefreshStatsJob enqueues a REFRESH_HN_STATS dispatcher job for each of
// the most recently persisted articles, adapting the teacher's cron wiring
// into the periodic ranking-signal refresh SPEC_FULL.md §9 describes.
func runRefreshStatsJob(ctx context.Context, logger *slog.Logger, articleRepo repository.ArticleRepository, q *queue.Queue, limit int) {
	articles, err := articleRepo.List(ctx, limit)
	if err != nil {
		logger.Error("refresh-stats: failed to list recent articles", slog.Any("error", err))
		return
	}

	enqueued := 0
	for _, article := range articles {
		payload, err := json.Marshal(rank.Payload{ArticleID: article.ID})
		if err != nil {
			logger.Error("refresh-stats: failed to marshal payload", slog.Any("error", err))
			continue
		}
		envelope, err := json.Marshal(dispatch.Envelope{Payload: payload})
		if err != nil {
			logger.Error("refresh-stats: failed to marshal envelope", slog.Any("error", err))
			continue
		}
		if err := q.PushTail(ctx, string(dispatch.RefreshHNStats), envelope); err != nil {
			logger.Error("refresh-stats: failed to enqueue", slog.Any("error", err), slog.Int64("article_id", article.ID))
			continue
		}
		enqueued++
	}
	logger.Info("refresh-stats job completed", slog.Int("enqueued", enqueued), slog.Int("candidates", len(articles)))
}

// runCrawlJob executes a single crawl job with timeout and error handling.
func runCrawlJob(logger *slog.Logger, svc fetchUC.Service, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics) {
	startTime := time.Now()
	metrics.RecordJobRun("started")
	logger.Info("crawl started")

	// クロール処理のタイムアウト（設定から取得）
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CrawlTimeout)
	defer cancel()

	stats, err := svc.CrawlAllSources(ctx)
	if err != nil {
		// 機密情報をマスクしてログ出力
		logger.Error("crawl failed", slog.Any("error", hhttp.SanitizeError(err)))
		metrics.RecordJobRun("failure")
		metrics.RecordJobDuration(time.Since(startTime).Seconds())
		return
	}

	// Record metrics
	metrics.RecordJobRun("success")
	metrics.RecordJobDuration(time.Since(startTime).Seconds())
	metrics.RecordFeedsProcessed(stats.Sources)
	metrics.RecordLastSuccess()

	logger.Info("crawl completed",
		slog.Int("sources", stats.Sources),
		slog.Int64("feed_items", stats.FeedItems),
		slog.Int64("enqueued", stats.Enqueued),
		slog.Int64("duplicated", stats.Duplicated),
		slog.Int64("errors", stats.Errors),
		slog.Duration("duration", stats.Duration),
	)
}

