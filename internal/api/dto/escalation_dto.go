package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// FindingRequest is an external security or audit observation.
type FindingRequest struct {
	TenantID       int64      `json:"tenant_id"`
	BusinessUnitID int64      `json:"business_unit_id"`
	ClientID       int64      `json:"client_id"`
	SiteID         int64      `json:"site_id"`
	CategoryID     int64      `json:"category_id"`
	FindingType    string     `json:"finding_type"`
	Severity       string     `json:"severity"`
	Summary        string     `json:"summary"`
	ObservedAt     *time.Time `json:"observed_at"`
}

// FindingResponse reports what a finding caused.
type FindingResponse struct {
	Created bool            `json:"created"`
	Ticket  *TicketResponse `json:"ticket,omitempty"`
}

// MatrixEntryRequest is one (category, level) row of the escalation matrix.
type MatrixEntryRequest struct {
	CategoryID     int64            `json:"category_id"`
	Level          int              `json:"level"`
	Frequency      domain.Frequency `json:"frequency"`
	FrequencyValue int              `json:"frequency_value"`
	AssignPersonID *int64           `json:"assign_person_id"`
	AssignGroupID  *int64           `json:"assign_group_id"`
	NotifyEmail    string           `json:"notify_email"`
	BodyTemplate   string           `json:"body_template"`
}

// ConfigureMatrixRequest payload.
type ConfigureMatrixRequest struct {
	Entries []MatrixEntryRequest `json:"entries"`
}

// MatrixEntryResponse mirrors a stored matrix entry.
type MatrixEntryResponse struct {
	ID             int64            `json:"id"`
	CategoryID     int64            `json:"category_id"`
	Level          int              `json:"level"`
	Frequency      domain.Frequency `json:"frequency"`
	FrequencyValue int              `json:"frequency_value"`
	WaitMinutes    int              `json:"wait_minutes"`
	AssignPersonID *int64           `json:"assign_person_id,omitempty"`
	AssignGroupID  *int64           `json:"assign_group_id,omitempty"`
	NotifyEmail    string           `json:"notify_email,omitempty"`
	BodyTemplate   string           `json:"body_template,omitempty"`
}
