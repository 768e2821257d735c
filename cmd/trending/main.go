// cmd/trending/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-trend-tracker/internal/config"
	"github-trend-tracker/internal/enrich"
	apperrors "github-trend-tracker/internal/errors"
	"github-trend-tracker/internal/github"
	"github-trend-tracker/internal/model"
	"github-trend-tracker/internal/pipeline"
	"github-trend-tracker/internal/store"
	"github-trend-tracker/internal/trend"
	"github-trend-tracker/internal/trending"
)

// Exit codes: 1 for general failure, 2 when the run was aborted by an API
// rate limit so schedulers can back off instead of retrying immediately.
const exitRateLimited = 2

func main() {
	if err := run(); err != nil {
		slog.Error("Run failed", "error", err)
		if apperrors.IsRateLimited(err) {
			os.Exit(exitRateLimited)
		}
		os.Exit(1)
	}
}

func run() error {
	fetchOnly := flag.Bool("fetch-only", false, "fetch and persist the snapshot without enrichment")
	dateFlag := flag.String("date", "", "run date as YYYY-MM-DD (default: today, UTC)")
	flag.Parse()

	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully", "mode", cfg.Mode)

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if *dateFlag != "" {
		date, err = time.Parse(time.DateOnly, *dateFlag)
		if err != nil {
			return fmt.Errorf("invalid -date value %q: %w", *dateFlag, err)
		}
	}

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	ghClient := github.NewClient(cfg.GithubToken, logger)
	scraper := trending.NewScraper(cfg.TrendingLanguage, logger)
	st := store.New(dbpool, logger)

	var enricher pipeline.Enricher
	if cfg.LLMAPIKey != "" {
		summarizer := enrich.NewSummarizer(enrich.SummarizerConfig{
			Provider: cfg.LLMProvider,
			APIKey:   cfg.LLMAPIKey,
			BaseURL:  cfg.LLMBaseURL,
			Model:    cfg.LLMModel,
		}, logger)
		enricher = enrich.NewEnricher(ghClient, summarizer, logger)
	} else {
		logger.Info("No LLM API key configured, enrichment uses rule-based classification only")
		enricher = enrich.NewEnricher(ghClient, nil, logger)
	}

	p := pipeline.New(ghClient, scraper, enricher, st, logger, pipeline.Options{
		Mode:  model.ParseMode(cfg.Mode),
		Topic: cfg.Topic,
		Trending: github.TrendingQuery{
			Days:     cfg.TrendingDays,
			MinStars: cfg.TrendingMinStars,
			Language: cfg.TrendingLanguage,
		},
		FetchLimit:    cfg.FetchLimit,
		TopNDetails:   cfg.TopNDetails,
		RetentionDays: cfg.RetentionDays,
		Trend: trend.Config{
			SurgeThreshold:   cfg.SurgeThreshold,
			TopRisers:        cfg.TopRisers,
			ActiveWindowDays: cfg.ActiveWindowDays,
		},
		FetchOnly: *fetchOnly,
	})

	// 6. Execute the run
	result, err := p.Run(ctx, date)
	if err != nil {
		var rle *apperrors.RateLimitedError
		if errors.As(err, &rle) {
			logger.Error("Aborted by API rate limit", "reset_at", rle.ResetAt)
		}
		return err
	}

	logger.Info("Trend snapshot recorded",
		"date", date.Format(time.DateOnly),
		"repos", result.Summary.TotalRepos,
		"newcomers", result.Summary.NewcomerCount,
		"surges", result.Summary.SurgeCount,
	)
	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
