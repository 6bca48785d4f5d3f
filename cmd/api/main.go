package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/config"
	"github.com/admin-platform/backend/internal/db"
	"github.com/admin-platform/backend/internal/events"
	apphttp "github.com/admin-platform/backend/internal/http"
	"github.com/admin-platform/backend/internal/http/handlers"
	"github.com/admin-platform/backend/internal/services"
)

func main() {
	cfg := config.Load()

	var log *zap.Logger
	if cfg.IsDevelopment() {
		log, _ = zap.NewDevelopment()
	} else {
		log, _ = zap.NewProduction()
	}
	defer log.Sync()

	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.Pool(cfg.MaxDBConns), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Audit stack
	stack, err := services.NewStack(pool, cfg, log)
	if err != nil {
		log.Fatal("failed to build audit stack", zap.Error(err))
	}
	log.Info("audited entity types", zap.Strings("types", stack.Registry.Names()))

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// WS hub
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Warn("ws hub not subscribed, live audit events disabled", zap.Error(err))
	}

	// Services
	auditService := services.NewAuditService(stack.Audits, stack.Engine, stack.Users, publisher, cfg, log)
	entityService := services.NewEntityService(stack.Registry, stack.Entities, stack.Observer, stack.Tx, log)

	// Handlers
	h := apphttp.Handlers{
		Auth:   handlers.NewAuthHandler(stack.Users, stack.Roles, cfg, log),
		User:   handlers.NewUserHandler(stack.Users, log),
		Audit:  handlers.NewAuditHandler(auditService, log),
		Entity: handlers.NewEntityHandler(entityService, log),
		WS:     wsHub,
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
