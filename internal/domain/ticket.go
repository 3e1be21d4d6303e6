package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "NEW"
	TicketStatusAssigned   TicketStatus = "ASSIGNED"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
	TicketStatusCancelled  TicketStatus = "CANCELLED"
)

// AllStatuses lists every known status in lifecycle order.
var AllStatuses = []TicketStatus{
	TicketStatusNew,
	TicketStatusAssigned,
	TicketStatusInProgress,
	TicketStatusResolved,
	TicketStatusClosed,
	TicketStatusCancelled,
}

// ParseStatus accepts the canonical names plus OPEN as an alias of ASSIGNED.
func ParseStatus(raw string) (TicketStatus, bool) {
	s := TicketStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if s == "OPEN" {
		return TicketStatusAssigned, true
	}
	for _, known := range AllStatuses {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusClosed || s == TicketStatusCancelled
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// ParsePriority accepts LOW/MEDIUM/HIGH and the v2 API's P0-P3 scale.
func ParsePriority(raw string) (TicketPriority, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HIGH", "P0", "P1":
		return TicketPriorityHigh, true
	case "MEDIUM", "P2":
		return TicketPriorityMedium, true
	case "LOW", "P3":
		return TicketPriorityLow, true
	}
	return "", false
}

// SLA returns the resolution window granted to a priority.
func (p TicketPriority) SLA() time.Duration {
	switch p {
	case TicketPriorityHigh:
		return 4 * time.Hour
	case TicketPriorityLow:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// TicketSource records how a ticket entered the system.
type TicketSource string

const (
	TicketSourceManual  TicketSource = "MANUAL"
	TicketSourceFinding TicketSource = "FINDING"
)

// Ticket is the aggregate for helpdesk requests.
type Ticket struct {
	ID               int64
	TenantID         int64
	BusinessUnitID   int64
	ClientID         int64
	Number           string
	Title            string
	Description      string
	Status           TicketStatus
	Priority         TicketPriority
	Level            int
	IsEscalated      bool
	CategoryID       int64
	CategoryName     string
	AssigneePersonID *int64
	AssigneeGroupID  *int64
	CreatedByID      int64
	ModifiedByID     int64
	Source           TicketSource
	SiteID           *int64
	FindingType      string
	CreatedAt        time.Time
	ModifiedAt       time.Time
	ResolvedAt       *time.Time
	EscalatedAt      *time.Time
	DueAt            time.Time
	Workflow         []WorkflowEntry
}

// TicketField names a persisted column so writes can be limited to what changed.
type TicketField string

const (
	FieldStatus           TicketField = "status"
	FieldPriority         TicketField = "priority"
	FieldLevel            TicketField = "level"
	FieldIsEscalated      TicketField = "is_escalated"
	FieldAssigneePersonID TicketField = "assignee_person_id"
	FieldAssigneeGroupID  TicketField = "assignee_group_id"
	FieldModifiedByID     TicketField = "modified_by_id"
	FieldModifiedAt       TicketField = "modified_at"
	FieldResolvedAt       TicketField = "resolved_at"
	FieldEscalatedAt      TicketField = "escalated_at"
)

// Assignee describes whoever currently owns a ticket.
type Assignee struct {
	Kind AssigneeKind `json:"kind"`
	ID   int64        `json:"id,omitempty"`
	Name string       `json:"name,omitempty"`
}

// AssigneeKind distinguishes people from groups.
type AssigneeKind string

const (
	AssigneeNone   AssigneeKind = "NONE"
	AssigneePerson AssigneeKind = "PERSON"
	AssigneeGroup  AssigneeKind = "GROUP"
)

// CurrentAssignee reports the occupied assignee slot without resolving names.
func (t *Ticket) CurrentAssignee() Assignee {
	switch {
	case t.AssigneePersonID != nil:
		return Assignee{Kind: AssigneePerson, ID: *t.AssigneePersonID}
	case t.AssigneeGroupID != nil:
		return Assignee{Kind: AssigneeGroup, ID: *t.AssigneeGroupID}
	default:
		return Assignee{Kind: AssigneeNone}
	}
}

// AssignPerson sets the person slot and clears the group slot.
func (t *Ticket) AssignPerson(personID int64) {
	id := personID
	t.AssigneePersonID = &id
	t.AssigneeGroupID = nil
}

// AssignGroup sets the group slot and clears the person slot.
func (t *Ticket) AssignGroup(groupID int64) {
	id := groupID
	t.AssigneeGroupID = &id
	t.AssigneePersonID = nil
}

// FormatTicketNumber renders a tenant sequence value.
func FormatTicketNumber(seq int64) string {
	return fmt.Sprintf("T%05d", seq)
}
