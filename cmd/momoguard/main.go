package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kigalipay/momoguard/internal/alert"
	"github.com/kigalipay/momoguard/internal/config"
	"github.com/kigalipay/momoguard/internal/fraud"
	"github.com/kigalipay/momoguard/internal/ingest"
	"github.com/kigalipay/momoguard/internal/metrics"
	"github.com/kigalipay/momoguard/internal/parser"
	"github.com/kigalipay/momoguard/internal/resolver"
	"github.com/kigalipay/momoguard/internal/server"
	"github.com/kigalipay/momoguard/internal/store"
	"github.com/kigalipay/momoguard/internal/store/memory"
	"github.com/kigalipay/momoguard/internal/store/postgres"
	redisstream "github.com/kigalipay/momoguard/internal/store/redis"
	"github.com/kigalipay/momoguard/internal/tracing"
	"github.com/kigalipay/momoguard/internal/verify"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const dbStatsInterval = 15 * time.Second

type repositories struct {
	records  store.RecordRepository
	attempts store.VerificationRepository
	alerts   store.FraudAlertRepository
}

type dbStatsProvider interface {
	Stats() sql.DBStats
}

func startDBStatsPump(ctx context.Context, db dbStatsProvider) {
	if db == nil {
		return
	}

	ticker := time.NewTicker(dbStatsInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				metrics.DBOpenConnections.Set(float64(stats.OpenConnections))
				metrics.DBInUseConnections.Set(float64(stats.InUse))
			}
		}
	}()
}

func buildStores(cfg *config.Config, logger *slog.Logger) (repositories, server.Pinger, func(), error) {
	dbURL := strings.TrimSpace(cfg.DB.URL)
	if dbURL == "" {
		logger.Warn("DB_URL is empty, using the in-memory store; records are lost on restart")
		mem := memory.New()
		return repositories{records: mem, attempts: mem, alerts: mem}, nil, func() {}, nil
	}

	db, err := postgres.New(postgres.Config{
		URL:             dbURL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return repositories{}, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
		db.Close()
		return repositories{}, nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("connected to database", "migrations_dir", cfg.DB.MigrationsDir)

	repos := repositories{
		records:  postgres.NewRecordRepo(db),
		attempts: postgres.NewVerificationRepo(db),
		alerts:   postgres.NewFraudAlertRepo(db),
	}
	return repos, db, func() { db.Close() }, nil
}

func buildTransport(cfg *config.Config, logger *slog.Logger) (redisstream.MessageTransport, error) {
	redisURL := strings.TrimSpace(cfg.Redis.URL)
	if redisURL == "" {
		logger.Info("REDIS_URL is empty, using the in-process event transport")
		return redisstream.NewInMemoryTransport(), nil
	}

	stream, err := redisstream.NewStream(redisURL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("redis stream transport enabled", "redis_url", redisURL)
	return stream, nil
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	sinks := make([]alert.Alerter, 0, 2)
	if cfg.Alert.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(sinks) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, sinks...)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting momoguard",
		"port", cfg.Server.Port,
		"db_configured", cfg.DB.URL != "",
		"redis_configured", cfg.Redis.URL != "",
		"verify_gate", cfg.Verify.Code != "",
	)

	shutdownTracing, err := tracing.Init(context.Background(), "momoguard", cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	repos, pinger, closeStore, err := buildStores(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	transport, err := buildTransport(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize event transport", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	scorer := fraud.New(fraud.Config{
		HistoryWindow:     time.Duration(cfg.Fraud.HistoryWindowDay) * 24 * time.Hour,
		MinHistory:        cfg.Fraud.MinHistory,
		AnomalyMultiplier: cfg.Fraud.AnomalyMultiplier,
		AmountCeiling:     decimal.NewFromInt(cfg.Fraud.AmountCeiling),
		RapidWindow:       cfg.Fraud.RapidWindow,
		RapidThreshold:    cfg.Fraud.RapidThreshold,
		TamperResidualLen: cfg.Fraud.TamperResidualLen,
	}, logger)

	res := resolver.New(repos.records, resolver.Config{
		FuzzyThreshold:  cfg.Resolver.FuzzyThreshold,
		CandidateWindow: cfg.Resolver.CandidateWindow,
		CandidateLimit:  cfg.Resolver.CandidateLimit,
	}, logger)

	ing := ingest.NewService(
		parser.NewExtractor(),
		scorer,
		repos.records,
		repos.alerts,
		transport,
		buildAlerter(cfg, logger),
		logger,
	)
	ver := verify.NewService(res, repos.attempts, cfg.Verify.CacheSize, cfg.Verify.CacheTTL, logger)

	api := server.NewServer(ing, ver, repos.records, repos.attempts, cfg.Verify.Code, pinger, logger)
	limiter := server.NewRateLimiter(logger)
	defer limiter.Stop()

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      limiter.Wrap(api.Handler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if db, ok := pinger.(dbStatsProvider); ok {
		startDBStatsPump(ctx, db)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("momoguard shut down gracefully")
}
