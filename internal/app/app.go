package app

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

	"github.com/redis/go-redis/v9"

	"go-audit-trail/internal/cache"
	"go-audit-trail/internal/config"
	"go-audit-trail/internal/database"
	"go-audit-trail/internal/event"
	"go-audit-trail/internal/handler"
	"go-audit-trail/internal/logger"
	"go-audit-trail/internal/messaging"
	"go-audit-trail/internal/metrics"
	"go-audit-trail/internal/middleware"
	"go-audit-trail/internal/repository"
	"go-audit-trail/internal/router"
	"go-audit-trail/internal/service"
	"go-audit-trail/internal/websocket"
)

type App struct {
	server       *http.Server
	db           *database.DB
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(slog.New(logger.New(os.Stdout, cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))))

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	a := &App{db: db}
	a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

	pool := db.Pool
	auditRepo := repository.NewAuditRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	slog.Info("database ready")

	checks := map[string]router.HealthCheck{"database": db.Health}

	var directory service.ActorDirectory = userRepo
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		actorCache := cache.NewActorCache(rdb, userRepo, cfg.ActorCacheTTL)
		directory = actorCache
		checks["redis"] = actorCache.Ping
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = rdb.Close() })
		slog.Info("actor cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.ActorCacheTTL)
	}

	m := metrics.New()
	bus := event.NewBus()

	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		stopForward := event.Forward(bus, producer)
		a.cleanupFuncs = append(a.cleanupFuncs, func() {
			stopForward()
			if err := producer.Close(); err != nil {
				slog.Warn("kafka producer close failed", "error", err)
			}
		})
		slog.Info("kafka forwarding enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	auditService := service.NewAuditService(auditRepo, directory, bus, m)
	auditService.SetPageLimits(cfg.AuditDefaultPageSize, cfg.AuditMaxPageSize)

	authService, err := service.NewAuthService(cfg.JWTSecret, cfg.JWTAccessTTL)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	authMiddleware := middleware.NewAuthMiddleware(authService)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(bus)
	go hub.Run(hubCtx)
	a.cleanupFuncs = append(a.cleanupFuncs, hubCancel)

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Audit:   handler.NewAuditHandler(auditService),
		Docs:    handler.NewDocsHandler(),
		Stream:  websocket.NewHandler(hub, cfg.CORSOrigins),
		Metrics: m.Handler(),
	}, checks)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	a.cleanup()
	slog.Info("server stopped")
	return nil
}

// cleanup releases resources in reverse order of acquisition.
func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
}
