package dto

// AssignPersonRequest payload.
type AssignPersonRequest struct {
	PersonID        int64  `json:"person_id"`
	Reason          string `json:"reason"`
	ResetEscalation bool   `json:"reset_escalation"`
}

// AssignGroupRequest payload.
type AssignGroupRequest struct {
	GroupID         int64  `json:"group_id"`
	Reason          string `json:"reason"`
	ResetEscalation bool   `json:"reset_escalation"`
}

// BulkAssignRequest payload.
type BulkAssignRequest struct {
	TicketIDs []int64 `json:"ticket_ids"`
	PersonID  int64   `json:"person_id"`
	Reason    string  `json:"reason"`
}
