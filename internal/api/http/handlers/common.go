package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

func requireActor(c *fiber.Ctx) (*domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok || actor == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid "+name, map[string]any{name: c.Params(name)})
	}
	return id, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

func ticketResponse(t *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:             t.ID,
		TenantID:       t.TenantID,
		BusinessUnitID: t.BusinessUnitID,
		ClientID:       t.ClientID,
		Number:         t.Number,
		Title:          t.Title,
		Description:    t.Description,
		Status:         t.Status,
		Priority:       t.Priority,
		Level:          t.Level,
		IsEscalated:    t.IsEscalated,
		CategoryID:     t.CategoryID,
		CategoryName:   t.CategoryName,
		Assignee:       t.CurrentAssignee(),
		Source:         t.Source,
		SiteID:         t.SiteID,
		FindingType:    t.FindingType,
		AllowedStatus:  service.AllowedTargets(t.Status),
		CreatedAt:      t.CreatedAt,
		ModifiedAt:     t.ModifiedAt,
		ResolvedAt:     t.ResolvedAt,
		EscalatedAt:    t.EscalatedAt,
		DueAt:          t.DueAt,
	}
}
