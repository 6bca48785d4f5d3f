package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/config"
)

// AuditScopeMiddleware opens one audit scope per request. Records written while
// serving the request share a batch id taken from the batch header, else the
// request id.
func AuditScopeMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlation := c.Get(cfg.AuditBatchHeader)
		if correlation == "" {
			correlation, _ = c.Locals(CtxRequestID).(string)
		}

		scope := audit.NewScope(
			audit.WithCorrelationID(correlation),
			audit.WithActor(GetActor(c)),
			audit.WithEnabled(cfg.AuditEnabled),
		)
		c.SetUserContext(audit.WithScope(c.UserContext(), scope))

		c.Set(cfg.AuditBatchHeader, scope.BatchID())
		return c.Next()
	}
}
