package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-engine/internal/api/http"
	"github.com/spec-kit/helpdesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-engine/internal/audit"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/lock"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/internal/repository/memstore"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	"github.com/spec-kit/helpdesk-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var store repository.Store
	if pg.Enabled() {
		if err := persistence.RunMigrations(cfg.Postgres, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		store = repository.NewPostgresStore(pg.Pool)
	} else {
		store = memstore.New()
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var locker lock.Locker
	if redis.Enabled() {
		locker = lock.NewRedisLocker(redis.Client, cfg.Lock.Prefix, cfg.Lock.RetryInterval(), logger)
	} else {
		locker = lock.NewMemoryLocker(cfg.Lock.RetryInterval())
	}

	recorder := audit.NewRecorder(audit.MultiSink{audit.NewLogSink(logger), audit.NewStoreSink(store.Audit())}, logger)
	dispatcher := events.NewInMemoryDispatcher(logger)

	notifications := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	notifications.RegisterHandlers()

	deps := service.Dependencies{
		Store:  store,
		Locker: locker,
		LockOptions: lock.Options{
			Timeout:         cfg.Lock.Timeout(),
			BlockingTimeout: cfg.Lock.BlockingTimeout(),
		},
		Audit:       recorder,
		Permissions: auth.NewRolePermissionChecker(),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	}
	ticketService := service.NewTicketService(deps, nil)
	assignmentService := service.NewAssignmentService(deps, service.AssignmentConfig{
		SpecialistLookback: cfg.Escalation.SpecialistLookback(),
	})
	escalationService := service.NewEscalationService(deps, service.EscalationOptions{
		FindingDedupWindow: cfg.Escalation.FindingDedupWindow(),
		Notifier:           notifications,
		NotifyTimeout:      cfg.Notification.Timeout(),
	})
	directoryService := service.NewDirectoryService(deps)

	var sweeper *worker.EscalationWorker
	if cfg.Escalation.WorkerEnabled {
		sweeper, err = worker.NewEscalationWorker(escalationService, locker, cfg.Escalation.SweepSchedule, cfg.Lock.Timeout(), logger)
		if err != nil {
			logger.Fatal("failed to schedule escalation sweeps", zap.Error(err))
		}
		sweeper.Start()
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	app.Use(requestid.New())
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(metrics.Handler()))
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, 60)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Assignment:     handlers.NewAssignmentHandler(assignmentService),
		Escalation:     handlers.NewEscalationHandler(escalationService),
		Directory:      handlers.NewDirectoryHandler(directoryService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	sweeper.Stop(shutdownCtx)
	if err := escalationService.Wait(shutdownCtx); err != nil {
		logger.Warn("escalation notifications still pending", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
