package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/retailops/backoffice/cmd/backoffice/cli"
	"github.com/retailops/backoffice/internal/accounting/accounts"
	"github.com/retailops/backoffice/internal/accounting/mappings"
	"github.com/retailops/backoffice/internal/accounting/periods"
	"github.com/retailops/backoffice/internal/app"
	"github.com/retailops/backoffice/internal/observability"
	"github.com/retailops/backoffice/internal/platform/cache"
	"github.com/retailops/backoffice/internal/platform/db"
	"github.com/retailops/backoffice/internal/platform/events"
	"github.com/retailops/backoffice/internal/platform/migrations"
	"github.com/retailops/backoffice/internal/posting"
	postinghttp "github.com/retailops/backoffice/internal/posting/http"
	"github.com/retailops/backoffice/jobs"
)

type eventPublisher interface {
	posting.Publisher
	Close() error
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] != "serve" {
		if err := runCommand(ctx, cfg, logger, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	if cfg.DBAutoMigrate {
		if err := migrate(cfg, logger); err != nil {
			return err
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{ApplicationName: "backoffice", MaxConns: cfg.PGMaxConns})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr}); err != nil {
		logger.Warn("redis unavailable, mapping cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	accountsRepo := accounts.NewRepository(pool)
	mappingRepo := mappings.NewRepository(pool)
	cachedRules := mappings.NewCachedRules(mappingRepo, mappings.NewCache(redisClient, cfg.MappingCacheTTL, logger))
	mappingService := mappings.NewService(mappingRepo, cachedRules)
	resolver := mappings.NewDefaultResolver(cachedRules, mappingRepo, accountsRepo)
	guard := periods.NewGuard(periods.NewRepository(pool))

	publisher := newPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	engine := posting.NewEngine(
		posting.NewRepository(pool),
		resolver,
		accountsRepo,
		guard,
		publisher,
		metrics,
		logger,
		posting.Config{DefaultCashCode: cfg.DefaultCashCode, DefaultBankCode: cfg.DefaultBankCode},
	)
	journalHandler := postinghttp.NewHandler(logger, engine, guard, mappingService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		JournalHandler: journalHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
		Ready:          readiness(pool),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newPublisher(cfg *app.Config, logger *slog.Logger) eventPublisher {
	if !cfg.KafkaEnabled() {
		logger.Info("kafka brokers not configured, journal events disabled")
		return events.Noop{}
	}
	return events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

func readiness(pool *pgxpool.Pool) func(*http.Request) error {
	return func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}

func migrate(cfg *app.Config, logger *slog.Logger) error {
	m, err := migrations.New(cfg.PGDSN, logger)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrations close", slog.Any("error", err))
		}
	}()
	return m.Up()
}

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	switch args[0] {
	case "migrate":
		return migrate(cfg, logger)
	case "jobs":
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr, cli.JobDefaults{
			LookbackDays:  cfg.GLIntegrityLookback,
			RetentionDays: cfg.IdempotencyRetention,
		})
		defer func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
		}()
		return jobsCLI.Run(ctx, os.Stdout, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
