package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketEscalated     EventType = "ticket_escalated"
	EventTicketAutoCreated   EventType = "ticket_auto_created"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID       int64       `json:"id"`
	TenantID int64       `json:"tenant_id"`
	Role     domain.Role `json:"role"`
}

// ActorOf copies the identifying fields of a caller.
func ActorOf(a *domain.Actor) Actor {
	if a == nil {
		return Actor{Role: domain.RoleSystem}
	}
	return Actor{ID: a.ID, TenantID: a.TenantID, Role: a.Role}
}

// Event represents a domain event emitted by services after commit.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  int64       `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType EventType, ticketID int64, actor *domain.Actor, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     ActorOf(actor),
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Number     string                `json:"number"`
	CategoryID int64                 `json:"category_id"`
	Priority   domain.TicketPriority `json:"priority"`
	Title      string                `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	Previous       domain.Assignee       `json:"previous"`
	Current        domain.Assignee       `json:"current"`
	AssignmentType domain.AssignmentType `json:"assignment_type"`
	Email          string                `json:"email,omitempty"`
}

// TicketEscalatedPayload payload. Recipient and Body feed the notifier.
type TicketEscalatedPayload struct {
	Number    string          `json:"number"`
	FromLevel int             `json:"from_level"`
	ToLevel   int             `json:"to_level"`
	Assignee  domain.Assignee `json:"assignee"`
	Recipient string          `json:"recipient,omitempty"`
	Subject   string          `json:"subject"`
	Body      string          `json:"body"`
}

// TicketAutoCreatedPayload payload.
type TicketAutoCreatedPayload struct {
	Number      string          `json:"number"`
	FindingID   int64           `json:"finding_id"`
	FindingType string          `json:"finding_type"`
	Severity    domain.Severity `json:"severity"`
	SiteID      int64           `json:"site_id"`
}
