// Command scraper runs the C3-C7 scraper orchestration (internal/usecase/scrape)
// as its own process: it polls ingest:out and scraper:retry, fetches and
// extracts article content, and emits summarizer:in, per spec.md §4.9 and
// SPEC_FULL.md §6's three-binary split.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	pgRepo "github.com/tsuchiya2/storypipe/internal/infra/adapter/persistence/postgres"
	"github.com/tsuchiya2/storypipe/internal/infra/db"
	"github.com/tsuchiya2/storypipe/internal/infra/fetcher"
	workerPkg "github.com/tsuchiya2/storypipe/internal/infra/worker"

	"github.com/tsuchiya2/storypipe/internal/idempotency"
	"github.com/tsuchiya2/storypipe/internal/queue"
	"github.com/tsuchiya2/storypipe/internal/usecase/scrape"
)

func main() {
	logger := initLogger()
	database := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := connectRedis(logger)
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close redis connection", slog.Any("error", err))
		}
	}()

	q := queue.NewFromClient(rdb, logger)
	if err := q.EnsureConnection(ctx); err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}

	svc := setupScraperService(logger, database, q, rdb)

	healthServer := startHealthServer(ctx, logger)
	healthServer.SetReady(true)

	logger.Info("scraper started")
	svc.Run(ctx)
	logger.Info("scraper stopped")
}

// initLogger initializes and returns a structured logger based on environment configuration.
func initLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the database connection and waits for migrations.
func initDatabase(logger *slog.Logger) *sql.DB {
	database := db.Open()
	const probe = "SELECT 1 FROM articles LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := database.Exec(probe); err == nil {
			return database
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		time.Sleep(3 * time.Second)
	}
	logger.Error("migrations did not complete in time")
	os.Exit(1)
	return nil
}

// connectRedis parses REDIS_URL and constructs a client shared between the
// queue and the idempotency registry.
func connectRedis(logger *slog.Logger) *redis.Client {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", slog.Any("error", err))
		os.Exit(1)
	}
	return redis.NewClient(opts)
}

// setupScraperService wires C3-C7 into a scrape.Service: a direct fetcher,
// a headless fallback, idempotency against double-processing, and the
// article/story stores the state machine upserts into.
func setupScraperService(logger *slog.Logger, database *sql.DB, q *queue.Queue, rdb *redis.Client) *scrape.Service {
	fetchCfg := fetcher.DefaultConfig()
	rawFetcher := fetcher.NewRawFetcher(fetchCfg, "storypipe-scraper/1.0")
	headlessFetcher := fetcher.NewHeadlessFetcher(fetcher.DefaultHeadlessConfig(), logger)

	idem := idempotency.New(rdb)
	articleRepo := pgRepo.NewArticleRepo(database)
	storyRepo := pgRepo.NewStoryRepo(database)

	return scrape.New(q, idem, rawFetcher, headlessFetcher, articleRepo, storyRepo, scrape.DefaultConfig(), logger)
}

// startHealthServer starts the liveness/readiness HTTP server on HEALTH_PORT
// (default 9092, distinct from cmd/worker's 9091 and cmd/summarizer's 9093).
func startHealthServer(ctx context.Context, logger *slog.Logger) *workerPkg.HealthServer {
	port := 9092
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		if parsed, err := fmt.Sscanf(v, "%d", &port); err != nil || parsed != 1 {
			logger.Warn("invalid HEALTH_PORT, using default", slog.String("value", v))
			port = 9092
		}
	}
	addr := fmt.Sprintf(":%d", port)
	healthServer := workerPkg.NewHealthServer(addr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", addr))
	return healthServer
}
