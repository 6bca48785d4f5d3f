package handlers

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/http/dto"
	"github.com/admin-platform/backend/internal/models"
)

type EntityAPI interface {
	Get(ctx context.Context, typeName, id string) (*models.Row, error)
	List(ctx context.Context, typeName string, limit, offset int) ([]models.Row, error)
	Create(ctx context.Context, typeName string, input *models.Attributes) (*models.Row, error)
	Update(ctx context.Context, typeName, id string, input *models.Attributes) (*models.Row, error)
	Delete(ctx context.Context, typeName, id string) error
	Restore(ctx context.Context, typeName, id string) (*models.Row, error)
}

type EntityHandler struct {
	entities EntityAPI
	log      *zap.Logger
}

func NewEntityHandler(entities EntityAPI, log *zap.Logger) *EntityHandler {
	return &EntityHandler{entities: entities, log: log}
}

func (h *EntityHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	rows, err := h.entities.List(c.UserContext(), c.Params("type"), limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rows})
}

func (h *EntityHandler) Get(c *fiber.Ctx) error {
	row, err := h.entities.Get(c.UserContext(), c.Params("type"), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: row})
}

func (h *EntityHandler) Create(c *fiber.Ctx) error {
	attrs, err := parseAttributes(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	row, err := h.entities.Create(c.UserContext(), c.Params("type"), attrs)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: row})
}

func (h *EntityHandler) Update(c *fiber.Ctx) error {
	attrs, err := parseAttributes(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	row, err := h.entities.Update(c.UserContext(), c.Params("type"), c.Params("id"), attrs)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: row})
}

func (h *EntityHandler) Delete(c *fiber.Ctx) error {
	if err := h.entities.Delete(c.UserContext(), c.Params("type"), c.Params("id")); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *EntityHandler) Restore(c *fiber.Ctx) error {
	row, err := h.entities.Restore(c.UserContext(), c.Params("type"), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: row})
}

// parseAttributes decodes the JSON object body keeping the caller's key order.
func parseAttributes(c *fiber.Ctx) (*models.Attributes, error) {
	attrs := models.NewAttributes()
	if err := json.Unmarshal(c.Body(), attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
