package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/service"
)

// DirectoryHandler manages people, groups, and the escalation matrix.
type DirectoryHandler struct {
	service *service.DirectoryService
}

// NewDirectoryHandler constructs handler.
func NewDirectoryHandler(directoryService *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{service: directoryService}
}

// CreatePerson POST /people.
func (h *DirectoryHandler) CreatePerson(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CreatePersonRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	person, err := h.service.CreatePerson(c.UserContext(), actor, service.PersonInput{
		BusinessUnitID: req.BusinessUnitID,
		ClientID:       req.ClientID,
		Name:           req.Name,
		Email:          req.Email,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": person})
}

// CreateGroup POST /groups.
func (h *DirectoryHandler) CreateGroup(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateGroupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	group, err := h.service.CreateGroup(c.UserContext(), actor, service.GroupInput{Name: req.Name, Email: req.Email})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": group})
}

// ListMatrix GET /escalations/matrix.
func (h *DirectoryHandler) ListMatrix(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	entries, err := h.service.ListMatrix(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": matrixResponse(entries)})
}

// ConfigureMatrix PUT /escalations/matrix.
func (h *DirectoryHandler) ConfigureMatrix(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.ConfigureMatrixRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	entries := make([]domain.MatrixEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, domain.MatrixEntry{
			CategoryID:     e.CategoryID,
			Level:          e.Level,
			Frequency:      e.Frequency,
			FrequencyValue: e.FrequencyValue,
			AssignPersonID: e.AssignPersonID,
			AssignGroupID:  e.AssignGroupID,
			NotifyEmail:    e.NotifyEmail,
			BodyTemplate:   e.BodyTemplate,
		})
	}
	saved, err := h.service.ConfigureMatrix(c.UserContext(), actor, entries)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": matrixResponse(saved)})
}

func matrixResponse(entries []domain.MatrixEntry) []dto.MatrixEntryResponse {
	out := make([]dto.MatrixEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.MatrixEntryResponse{
			ID:             e.ID,
			CategoryID:     e.CategoryID,
			Level:          e.Level,
			Frequency:      e.Frequency,
			FrequencyValue: e.FrequencyValue,
			WaitMinutes:    e.WaitMinutes(),
			AssignPersonID: e.AssignPersonID,
			AssignGroupID:  e.AssignGroupID,
			NotifyEmail:    e.NotifyEmail,
			BodyTemplate:   e.BodyTemplate,
		})
	}
	return out
}
