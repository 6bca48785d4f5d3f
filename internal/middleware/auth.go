package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/auth"
	"github.com/admin-platform/backend/internal/config"
	"github.com/admin-platform/backend/internal/models"
	"github.com/admin-platform/backend/internal/rbac"
)

const (
	CtxActor = "actor"
	CtxRoles = "roles"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxActor, claims.Actor())
		c.Locals(CtxRoles, claims.Roles)

		return c.Next()
	}
}

func GetActor(c *fiber.Ctx) *models.Actor {
	a, _ := c.Locals(CtxActor).(*models.Actor)
	return a
}

func GetRoles(c *fiber.Ctx) []string {
	r, _ := c.Locals(CtxRoles).([]string)
	return r
}

// RequirePermission rejects actors none of whose roles grant perm.
func RequirePermission(perm string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles := GetRoles(c)
		if !rbac.AnyHasPermission(roles, perm) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "permission denied"})
		}
		if rbac.IsDestructive(perm) {
			actorID := ""
			if a := GetActor(c); a != nil {
				actorID = a.ID
			}
			log.Info("destructive access granted",
				zap.String("permission", perm),
				zap.String("actor_id", actorID),
				zap.String("path", c.Path()))
		}
		return c.Next()
	}
}
