package domain

import (
	"strings"
	"time"
)

// Severity ranks an externally generated finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// CreatesTicket reports whether findings of this severity open tickets.
func (s Severity) CreatesTicket() bool {
	switch Severity(strings.ToUpper(string(s))) {
	case SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// FindingOutcome records what the engine did with a finding.
type FindingOutcome string

const (
	FindingTicketCreated FindingOutcome = "TICKET_CREATED"
	FindingDeduplicated  FindingOutcome = "DEDUPLICATED"
	FindingSuppressed    FindingOutcome = "SUPPRESSED"
)

// Finding is a security or audit observation reported by an external scanner.
type Finding struct {
	ID             int64
	TenantID       int64
	BusinessUnitID int64
	ClientID       int64
	SiteID         int64
	CategoryID     int64
	FindingType    string
	Severity       Severity
	Summary        string
	ObservedAt     time.Time
	Outcome        FindingOutcome
	TicketID       *int64
}
