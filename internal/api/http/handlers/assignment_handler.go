package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// AssignmentHandler exposes manual, automatic, and bulk assignment.
type AssignmentHandler struct {
	service *service.AssignmentService
}

// NewAssignmentHandler constructs handler.
func NewAssignmentHandler(assignmentService *service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: assignmentService}
}

func parseReason(raw string) (domain.AssignmentReason, error) {
	switch r := domain.AssignmentReason(raw); r {
	case "":
		return domain.ReasonUserAction, nil
	case domain.ReasonUserAction, domain.ReasonAutoAssignment, domain.ReasonEscalation,
		domain.ReasonLoadBalancing, domain.ReasonBusinessRule:
		return r, nil
	}
	return "", apperrors.NewValidationError("unknown reason", map[string]any{"reason": raw})
}

// AssignPerson POST /tickets/:id/assign/person.
func (h *AssignmentHandler) AssignPerson(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req dto.AssignPersonRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.PersonID <= 0 {
		return apperrors.NewValidationError("person_id is required", nil)
	}
	reason, err := parseReason(req.Reason)
	if err != nil {
		return err
	}
	result, err := h.service.AssignToPerson(c.UserContext(), actor, id, req.PersonID,
		service.AssignOptions{Reason: reason, ResetEscalation: req.ResetEscalation})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// AssignGroup POST /tickets/:id/assign/group.
func (h *AssignmentHandler) AssignGroup(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req dto.AssignGroupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.GroupID <= 0 {
		return apperrors.NewValidationError("group_id is required", nil)
	}
	reason, err := parseReason(req.Reason)
	if err != nil {
		return err
	}
	result, err := h.service.AssignToGroup(c.UserContext(), actor, id, req.GroupID,
		service.AssignOptions{Reason: reason, ResetEscalation: req.ResetEscalation})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// AutoAssign POST /tickets/:id/assign/auto. Finding nobody is a 200 with
// success=false.
func (h *AssignmentHandler) AutoAssign(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	result, err := h.service.AutoAssign(c.UserContext(), actor, id, service.AssignOptions{})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// BulkAssign POST /tickets/assign/bulk.
func (h *AssignmentHandler) BulkAssign(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.BulkAssignRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.PersonID <= 0 {
		return apperrors.NewValidationError("person_id is required", nil)
	}
	reason, err := parseReason(req.Reason)
	if err != nil {
		return err
	}
	results, err := h.service.BulkAssignToPerson(c.UserContext(), actor, req.TicketIDs, req.PersonID,
		service.AssignOptions{Reason: reason})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": results})
}
