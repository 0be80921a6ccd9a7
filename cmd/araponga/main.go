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
	"github.com/sraphaz/araponga-sub002/internal/assets"
	"github.com/sraphaz/araponga-sub002/internal/auth"
	"github.com/sraphaz/araponga-sub002/internal/feed"
	"github.com/sraphaz/araponga-sub002/internal/identity"
	"github.com/sraphaz/araponga-sub002/internal/moderation"
	"github.com/sraphaz/araponga-sub002/internal/observability"
	"github.com/sraphaz/araponga-sub002/internal/platform/cache"
	"github.com/sraphaz/araponga-sub002/internal/platform/db"
	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
	"github.com/sraphaz/araponga-sub002/internal/territory"
	"github.com/sraphaz/araponga-sub002/jobs"
)

// credentialSource adapts the identity repository to the auth login flow.
type credentialSource struct {
	repo *identity.Repository
}

func (s credentialSource) CredentialsByEmail(ctx context.Context, email string) (auth.Credentials, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return auth.Credentials{}, err
	}
	return auth.Credentials{
		UserID:       user.ID,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		IsActive:     user.IsActive,
	}, nil
}

// grantSource composes the two authorization schemes behind the review
// gate. Fields are filled in after the services exist, since both of
// them also depend on the gate.
type grantSource struct {
	permissions  *identity.Service
	capabilities *territory.Service
}

func (s *grantSource) HasSystemPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	return s.permissions.HasPermission(ctx, userID, permission)
}

func (s *grantSource) HasCapability(ctx context.Context, userID, territoryID int64, capability string) (bool, error) {
	return s.capabilities.HasCapability(ctx, userID, territoryID, capability)
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	auditLogger := shared.NewAuditLogger(dbpool)

	reviewStore := review.NewStore(dbpool)
	reviewEngine := review.NewEngine(reviewStore, auditLogger, logger)
	reviewHandler := review.NewHandler(logger, reviewEngine)

	grants := &grantSource{}
	gate := review.NewGate(grants, redisClient, cfg.AuthCacheTTL, logger)

	identityRepo := identity.NewRepository(dbpool, auditLogger, logger)
	identityService := identity.NewService(identityRepo, reviewEngine, gate, auditLogger, logger)
	identityHandler := identity.NewHandler(logger, identityService)

	territoryRepo := territory.NewRepository(dbpool, auditLogger, logger)
	territoryService := territory.NewService(territoryRepo, reviewEngine, gate, identityService, auditLogger, logger)
	territoryHandler := territory.NewHandler(logger, territoryService)

	grants.permissions = identityService
	grants.capabilities = territoryService

	moderationRepo := moderation.NewRepository(dbpool, auditLogger, logger)
	moderationService := moderation.NewService(moderationRepo, reviewEngine, gate, territoryService, auditLogger, moderation.Config{
		ReportThreshold:  cfg.ReportThreshold,
		ReportWindow:     cfg.ReportWindow,
		SanctionDuration: cfg.SanctionDuration,
	}, logger)
	moderationHandler := moderation.NewHandler(logger, moderationService)

	feedStore := feed.NewStore(dbpool)
	feedService := feed.NewService(feedStore, territoryService, moderationService, auditLogger, logger)
	feedHandler := feed.NewHandler(logger, feedService)

	assetsRepo := assets.NewRepository(dbpool, auditLogger, logger)
	assetsService := assets.NewService(assetsRepo, reviewEngine, gate, territoryService, auditLogger, logger)
	assetsHandler := assets.NewHandler(logger, assetsService)

	tokens := auth.NewTokenStore(redisClient, cfg.SessionTTL)
	authService := auth.NewService(credentialSource{repo: identityRepo}, tokens)
	authHandler := auth.NewHandler(logger, authService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AuthService:       authService,
		AuthHandler:       authHandler,
		IdentityHandler:   identityHandler,
		TerritoryHandler:  territoryHandler,
		FeedHandler:       feedHandler,
		AssetsHandler:     assetsHandler,
		ModerationHandler: moderationHandler,
		ReviewHandler:     reviewHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
