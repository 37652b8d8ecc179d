// Command summarizer runs the C8-C11 summarizer orchestration
// (internal/usecase/summarize) as its own process: it polls summarizer:in
// and summarizer:retry, calls the configured LLM provider, persists the
// structured result, and enqueues EMBED/TAG dispatcher follow-ons, per
// spec.md §4.7 and SPEC_FULL.md §6's three-binary split.
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
	"github.com/tsuchiya2/storypipe/internal/infra/summarizer"
	workerPkg "github.com/tsuchiya2/storypipe/internal/infra/worker"

	"github.com/tsuchiya2/storypipe/internal/idempotency"
	"github.com/tsuchiya2/storypipe/internal/queue"
	"github.com/tsuchiya2/storypipe/internal/usecase/summarize"
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

	svc := setupSummarizerService(logger, database, q, rdb)

	healthServer := startHealthServer(ctx, logger)
	healthServer.SetReady(true)

	logger.Info("summarizer started")
	svc.Run(ctx)
	logger.Info("summarizer stopped")
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
	const probe = "SELECT 1 FROM summaries LIMIT 1"
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

// setupSummarizerService selects a completion provider from
// SUMMARIZER_PROVIDER (claude, openai, or noop for local dev without an API
// key) and wires it into a summarize.Service via a schema-bound Engine.
func setupSummarizerService(logger *slog.Logger, database *sql.DB, q *queue.Queue, rdb *redis.Client) *summarize.Service {
	model := os.Getenv("SUMMARIZER_MODEL")
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}

	provider, err := newProvider(os.Getenv("SUMMARIZER_PROVIDER"), model)
	if err != nil {
		logger.Error("failed to configure summarizer provider", slog.Any("error", err))
		os.Exit(1)
	}

	idem := idempotency.New(rdb)
	engine := summarizer.NewEngine(provider, model, idem)
	summaryRepo := pgRepo.NewSummaryRepo(database)

	return summarize.New(q, engine, summaryRepo, summarize.DefaultConfig(model), logger)
}

// newProvider builds the Provider named by kind, defaulting to claude when
// unset. SUMMARIZER_API_KEY supplies the model API key; kind "noop" needs
// none and exists for local dev/CI where no key is configured.
func newProvider(kind, model string) (summarizer.Provider, error) {
	apiKey := os.Getenv("SUMMARIZER_API_KEY")
	switch kind {
	case "noop":
		return summarizer.NewNoOp(), nil
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("SUMMARIZER_API_KEY is required for provider %q", kind)
		}
		cfg := &summarizer.OpenAIConfig{
			CharacterLimit: 900,
			Language:       "japanese",
			Model:          model,
			MaxTokens:      1024,
			Timeout:        30 * time.Second,
		}
		return summarizer.NewOpenAI(apiKey, cfg), nil
	case "", "claude":
		if apiKey == "" {
			return nil, fmt.Errorf("SUMMARIZER_API_KEY is required for provider %q", kind)
		}
		return summarizer.NewClaude(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown SUMMARIZER_PROVIDER %q", kind)
	}
}

// startHealthServer starts the liveness/readiness HTTP server on HEALTH_PORT
// (default 9093, distinct from cmd/worker's 9091 and cmd/scraper's 9092).
func startHealthServer(ctx context.Context, logger *slog.Logger) *workerPkg.HealthServer {
	port := 9093
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		if parsed, err := fmt.Sscanf(v, "%d", &port); err != nil || parsed != 1 {
			logger.Warn("invalid HEALTH_PORT, using default", slog.String("value", v))
			port = 9093
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
