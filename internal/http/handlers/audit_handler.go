package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/http/dto"
	"github.com/admin-platform/backend/internal/models"
	"github.com/admin-platform/backend/internal/services"
)

type AuditAPI interface {
	List(ctx context.Context, p services.ListParams) (*models.Page[models.AuditRecord], error)
	Get(ctx context.Context, id uuid.UUID) (*services.RecordView, error)
	Rollback(ctx context.Context, id uuid.UUID) (*audit.Result, error)
}

type AuditHandler struct {
	audits AuditAPI
	log    *zap.Logger
}

func NewAuditHandler(audits AuditAPI, log *zap.Logger) *AuditHandler {
	return &AuditHandler{audits: audits, log: log}
}

// ListAudits serves GET /audits?entity_type=&entity_id=&event=&mode=&page=&per_page=
func (h *AuditHandler) ListAudits(c *fiber.Ctx) error {
	p := services.ListParams{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Event:      c.Query("event"),
		Mode:       c.Query("mode"),
	}
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid page"})
		}
		p.Page = n
	}
	if v := c.Query("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid per_page"})
		}
		p.PerPage = n
	}
	if p.Mode == "" && (p.Page > 0 || p.PerPage > 0) {
		p.Mode = services.ModePaginated
	}

	page, err := h.audits.List(c.UserContext(), p)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: page})
}

func (h *AuditHandler) GetAudit(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid audit id"})
	}

	rec, err := h.audits.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rec})
}

func (h *AuditHandler) Rollback(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid audit id"})
	}

	res, err := h.audits.Rollback(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.RollbackResponse{
		EntityType:     res.EntityType,
		EntityID:       res.EntityID,
		RolledBackFrom: res.RolledBackFrom.String(),
		TargetVersion:  res.TargetVersion,
		Entity:         res.Entity,
	}})
}
