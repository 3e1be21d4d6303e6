package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// EscalationHandler exposes sweeps, reports, manual escalation, and finding intake.
type EscalationHandler struct {
	service *service.EscalationService
	now     func() time.Time
}

// NewEscalationHandler constructs handler.
func NewEscalationHandler(escalationService *service.EscalationService) *EscalationHandler {
	return &EscalationHandler{service: escalationService, now: time.Now}
}

// Sweep POST /escalations/sweep. Tenant admins sweep their own tenant.
func (h *EscalationHandler) Sweep(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	result, err := h.service.SweepFor(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// Report GET /escalations/report?since=RFC3339. Defaults to the last 24 hours.
func (h *EscalationHandler) Report(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	since := h.now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperrors.NewValidationError("since must be RFC3339", map[string]any{"since": raw})
		}
		since = parsed
	}
	report, err := h.service.Report(c.UserContext(), actor, since)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// Escalate POST /tickets/:id/escalate.
func (h *EscalationHandler) Escalate(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	outcome, err := h.service.EscalateTicket(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": outcome})
}

// Finding POST /findings. Callers other than superusers may only report
// findings for their own tenant.
func (h *EscalationHandler) Finding(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.FindingRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.TenantID == 0 {
		req.TenantID = actor.TenantID
	}
	if !actor.IsSuperuser && req.TenantID != actor.TenantID {
		return apperrors.NewForbidden("finding belongs to another tenant")
	}
	finding := &domain.Finding{
		TenantID:       req.TenantID,
		BusinessUnitID: req.BusinessUnitID,
		ClientID:       req.ClientID,
		SiteID:         req.SiteID,
		CategoryID:     req.CategoryID,
		FindingType:    req.FindingType,
		Severity:       domain.Severity(req.Severity),
		Summary:        req.Summary,
	}
	if req.ObservedAt != nil {
		finding.ObservedAt = *req.ObservedAt
	}
	ticket, err := h.service.HandleFinding(c.UserContext(), finding)
	if err != nil {
		return err
	}
	if ticket == nil {
		return c.JSON(fiber.Map{"data": dto.FindingResponse{Created: false}})
	}
	resp := ticketResponse(ticket)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.FindingResponse{Created: true, Ticket: &resp}})
}
