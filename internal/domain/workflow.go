package domain

import "time"

// WorkflowAction captures what changed in a workflow entry.
type WorkflowAction string

const (
	WorkflowCreated       WorkflowAction = "CREATED"
	WorkflowStatusChanged WorkflowAction = "STATUS_CHANGED"
	WorkflowAssigned      WorkflowAction = "ASSIGNED"
	WorkflowEscalated     WorkflowAction = "ESCALATED"
)

// WorkflowEntry is an immutable item of the per-ticket history log.
type WorkflowEntry struct {
	Action  WorkflowAction `json:"action"`
	ActorID int64          `json:"actor_id"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// AuditEventType classifies audit log records.
type AuditEventType string

const (
	AuditTransitionValidated AuditEventType = "status_transition_validated"
	AuditStatusChanged       AuditEventType = "status_changed"
	AuditTicketAssigned      AuditEventType = "ticket_assigned"
	AuditTicketEscalated     AuditEventType = "ticket_escalated"
	AuditTicketAutoCreated   AuditEventType = "ticket_auto_created"
)

// AssignmentType describes how an assignment came about.
type AssignmentType string

const (
	AssignmentIndividual   AssignmentType = "individual"
	AssignmentGroup        AssignmentType = "group"
	AssignmentAuto         AssignmentType = "auto"
	AssignmentReassignment AssignmentType = "reassignment"
	AssignmentEscalation   AssignmentType = "escalation"
)

// AssignmentReason is the trigger behind an assignment.
type AssignmentReason string

const (
	ReasonUserAction     AssignmentReason = "user_action"
	ReasonAutoAssignment AssignmentReason = "auto_assignment"
	ReasonEscalation     AssignmentReason = "escalation"
	ReasonLoadBalancing  AssignmentReason = "load_balancing"
	ReasonBusinessRule   AssignmentReason = "business_rule"
)

// AuditEvent is an append-only compliance record.
type AuditEvent struct {
	ID             string         `json:"id"`
	TenantID       int64          `json:"tenant_id"`
	TicketID       int64          `json:"ticket_id"`
	ActorID        int64          `json:"actor_id"`
	EventType      AuditEventType `json:"event_type"`
	AssignmentType AssignmentType `json:"assignment_type,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Before         map[string]any `json:"before,omitempty"`
	After          map[string]any `json:"after,omitempty"`
	Success        bool           `json:"success"`
	ErrorCode      string         `json:"error_code,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}
