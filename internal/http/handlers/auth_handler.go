package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/auth"
	"github.com/admin-platform/backend/internal/config"
	"github.com/admin-platform/backend/internal/http/dto"
	"github.com/admin-platform/backend/internal/models"
)

type AccountLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type RoleLookup interface {
	RoleCodes(ctx context.Context, userID string) ([]string, error)
}

// AuthHandler issues tokens for existing users. It is only mounted in
// development; production tokens come from the identity provider.
type AuthHandler struct {
	users AccountLookup
	roles RoleLookup
	cfg   *config.Config
	log   *zap.Logger
}

func NewAuthHandler(users AccountLookup, roles RoleLookup, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, roles: roles, cfg: cfg, log: log}
}

func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req dto.TokenRequest
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "email is required"})
	}

	user, err := h.users.GetByEmail(c.UserContext(), req.Email)
	if errors.Is(err, audit.ErrNotFound) {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "unknown user"})
	}
	if err != nil {
		return respondError(c, h.log, err)
	}

	roles, err := h.roles.RoleCodes(c.UserContext(), user.ID.String())
	if err != nil {
		return respondError(c, h.log, err)
	}

	actor := models.Actor{Type: models.ActorUser, ID: user.ID.String()}
	token, err := auth.GenerateJWT(h.cfg.JWTSecret, actor, roles, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to sign token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to issue token"})
	}

	return c.JSON(dto.AuthResponse{Token: token, User: user})
}
