package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/config"
	"github.com/admin-platform/backend/internal/http/handlers"
	"github.com/admin-platform/backend/internal/middleware"
	"github.com/admin-platform/backend/internal/rbac"
)

type Handlers struct {
	Auth   *handlers.AuthHandler
	User   *handlers.UserHandler
	Audit  *handlers.AuditHandler
	Entity *handlers.EntityHandler
	WS     *handlers.WSHub
}

func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID, " + cfg.AuditBatchHeader,
		ExposeHeaders: "X-Request-ID, " + cfg.AuditBatchHeader,
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// WebSocket
	if h.WS != nil {
		app.Use("/ws", h.WS.Authorize())
		app.Get("/ws", websocket.New(h.WS.HandleWS))
	}

	api := app.Group("/api/v1")

	if cfg.IsDevelopment() && h.Auth != nil {
		api.Post("/auth/token", h.Auth.IssueToken)
	}

	// Protected endpoints
	protected := api.Group("",
		middleware.AuthMiddleware(cfg, log),
		middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log),
		middleware.AuditScopeMiddleware(cfg),
	)

	protected.Get("/me", h.User.GetMe)

	// Audit log
	view := middleware.RequirePermission(rbac.PermViewAudit, log)
	protected.Get("/audits", view, h.Audit.ListAudits)
	protected.Get("/audits/:id", view, h.Audit.GetAudit)
	protected.Post("/audits/:id/rollback", middleware.RequirePermission(rbac.PermRollback, log), h.Audit.Rollback)

	// Entities
	read := middleware.RequirePermission(rbac.PermViewEntities, log)
	write := middleware.RequirePermission(rbac.PermWriteEntities, log)
	protected.Get("/entities/:type", read, h.Entity.List)
	protected.Get("/entities/:type/:id", read, h.Entity.Get)
	protected.Post("/entities/:type", write, h.Entity.Create)
	protected.Patch("/entities/:type/:id", write, h.Entity.Update)
	protected.Delete("/entities/:type/:id", write, h.Entity.Delete)
	protected.Post("/entities/:type/:id/restore", write, h.Entity.Restore)
}
