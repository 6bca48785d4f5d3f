package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/http/dto"
	"github.com/admin-platform/backend/internal/middleware"
	"github.com/admin-platform/backend/internal/services"
)

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, audit.ErrNotFound), errors.Is(err, services.ErrUnknownType):
		return fiber.StatusNotFound
	case errors.Is(err, audit.ErrUnauditedType):
		return fiber.StatusForbidden
	case errors.Is(err, audit.ErrSchemaDrift), errors.Is(err, services.ErrNotTrashed):
		return fiber.StatusConflict
	case errors.Is(err, audit.ErrUnsupportedEvent), errors.Is(err, audit.ErrNothingToRollback),
		errors.Is(err, services.ErrInvalidInput):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, audit.ErrTransient):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := statusFor(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)

	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("request_id", reqID), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
}
