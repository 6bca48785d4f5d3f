package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/http/dto"
	"github.com/admin-platform/backend/internal/middleware"
	"github.com/admin-platform/backend/internal/models"
	"github.com/admin-platform/backend/internal/services"
)

type UserHandler struct {
	users services.UserLookup
	log   *zap.Logger
}

func NewUserHandler(users services.UserLookup, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// GetMe returns the calling actor and, for user actors, their account.
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "no actor"})
	}

	data := fiber.Map{"actor": actor, "roles": middleware.GetRoles(c)}
	if actor.Type != models.ActorSystem {
		user, err := h.users.GetByID(c.UserContext(), actor.ID)
		if err != nil {
			return respondError(c, h.log, err)
		}
		data["user"] = user
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: data})
}
