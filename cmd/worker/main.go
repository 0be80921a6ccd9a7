package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sraphaz/araponga-sub002/internal/app"
	"github.com/sraphaz/araponga-sub002/internal/identity"
	jobmetrics "github.com/sraphaz/araponga-sub002/internal/jobs"
	"github.com/sraphaz/araponga-sub002/internal/moderation"
	"github.com/sraphaz/araponga-sub002/internal/observability"
	"github.com/sraphaz/araponga-sub002/internal/platform/cache"
	"github.com/sraphaz/araponga-sub002/internal/platform/db"
	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
	"github.com/sraphaz/araponga-sub002/internal/territory"
	"github.com/sraphaz/araponga-sub002/jobs"
)

// repoGrants backs the review gate straight from the repositories. The
// worker never serves decision traffic, so there is no service graph to
// share a cache with.
type repoGrants struct {
	identity  *identity.Repository
	territory *territory.Repository
}

func (g repoGrants) HasSystemPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	return g.identity.HasPermission(ctx, userID, permission)
}

func (g repoGrants) HasCapability(ctx context.Context, userID, territoryID int64, capability string) (bool, error) {
	return g.territory.HasCapability(ctx, userID, territoryID, capability)
}

// repoMemberships satisfies the moderation membership check from the
// territory repository. The sweep never files reports, so the check is
// unreachable here, but the service contract requires one.
type repoMemberships struct {
	repo *territory.Repository
}

func (m repoMemberships) IsActiveMember(ctx context.Context, userID, territoryID int64) (bool, error) {
	membership, err := m.repo.GetMembership(ctx, territoryID, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return membership.Active(), nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	reviewStore := review.NewStore(pool)
	reviewEngine := review.NewEngine(reviewStore, auditLogger, logger)

	identityRepo := identity.NewRepository(pool, auditLogger, logger)
	territoryRepo := territory.NewRepository(pool, auditLogger, logger)
	gate := review.NewGate(repoGrants{identity: identityRepo, territory: territoryRepo}, redisClient, cfg.AuthCacheTTL, logger)

	moderationRepo := moderation.NewRepository(pool, auditLogger, logger)
	moderationService := moderation.NewService(moderationRepo, reviewEngine, gate, repoMemberships{repo: territoryRepo}, auditLogger, moderation.Config{
		ReportThreshold:  cfg.ReportThreshold,
		ReportWindow:     cfg.ReportWindow,
		SanctionDuration: cfg.SanctionDuration,
	}, logger)

	metrics := observability.NewMetrics()
	workerMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("starting metrics listener", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics listener", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	sweepJob := jobs.NewEscalateSweepJob(moderationService, logger, workerMetrics)
	queueJob := jobs.NewQueueMetricsJob(reviewStore, metrics, logger, workerMetrics)

	sweepTask, err := jobs.NewEscalateSweepTask()
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	queueTask, err := jobs.NewQueueMetricsTask()
	if err != nil {
		logger.Error("build queue metrics task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskModerationEscalateSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskReviewQueueMetrics, Handler: queueJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.EscalationSweepPeriod.String(), Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "* * * * *", Task: queueTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
