package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/siep/siep/internal/app"
	"github.com/siep/siep/internal/auth"
	"github.com/siep/siep/internal/meetings"
	"github.com/siep/siep/internal/observability"
	"github.com/siep/siep/internal/platform/cache"
	"github.com/siep/siep/internal/platform/db"
	"github.com/siep/siep/internal/rbac"
	"github.com/siep/siep/internal/roles"
	"github.com/siep/siep/internal/shared"
	"github.com/siep/siep/internal/solicitudes"
	"github.com/siep/siep/internal/users"
	"github.com/siep/siep/jobs"
)

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
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("siep exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(pool)

	matrix := rbac.DefaultMatrix()
	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Matrix: matrix, Logger: logger, Observer: metrics}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, cfg.NotifyQueue)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	authService := auth.NewService(auth.NewRepository(pool))
	solicitudService := solicitudes.NewService(
		solicitudes.NewRepository(pool),
		solicitudes.NewMachine(matrix),
		solicitudes.ServiceConfig{
			Audit:    auditLogger,
			Notifier: jobClient.Notifier(),
			Observer: metrics,
			Logger:   logger,
		},
	)

	meetingService := meetings.NewService(meetings.NewRepository(pool), matrix, meetings.ServiceConfig{
		Audit:  auditLogger,
		Logger: logger,
	})
	userService := users.NewService(users.NewRepository(pool), auditLogger, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager, matrix),
		SolicitudesHandler: solicitudes.NewHandler(logger, solicitudService, rbacMiddleware),
		MeetingsHandler:    meetings.NewHandler(logger, meetingService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, userService, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, roles.NewService(roles.NewRepository(pool), matrix), rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, cfg.NotifyQueue, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
