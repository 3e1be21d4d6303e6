package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	BusinessUnitID int64  `json:"business_unit_id"`
	ClientID       int64  `json:"client_id"`
	CategoryID     int64  `json:"category_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Priority       string `json:"priority"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// TicketResponse is the public shape of a ticket.
type TicketResponse struct {
	ID             int64                 `json:"id"`
	TenantID       int64                 `json:"tenant_id"`
	BusinessUnitID int64                 `json:"business_unit_id"`
	ClientID       int64                 `json:"client_id"`
	Number         string                `json:"number"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	Status         domain.TicketStatus   `json:"status"`
	Priority       domain.TicketPriority `json:"priority"`
	Level          int                   `json:"level"`
	IsEscalated    bool                  `json:"is_escalated"`
	CategoryID     int64                 `json:"category_id"`
	CategoryName   string                `json:"category_name,omitempty"`
	Assignee       domain.Assignee       `json:"assignee"`
	Source         domain.TicketSource   `json:"source"`
	SiteID         *int64                `json:"site_id,omitempty"`
	FindingType    string                `json:"finding_type,omitempty"`
	AllowedStatus  []domain.TicketStatus `json:"allowed_transitions"`
	CreatedAt      time.Time             `json:"created_at"`
	ModifiedAt     time.Time             `json:"modified_at"`
	ResolvedAt     *time.Time            `json:"resolved_at"`
	EscalatedAt    *time.Time            `json:"escalated_at,omitempty"`
	DueAt          time.Time             `json:"due_at"`
}
