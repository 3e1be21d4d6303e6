package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a guarded update matched no row because a
	// concurrent writer changed it first.
	ErrConflict = errors.New("row changed concurrently")
)

// WorkloadScope narrows people and tickets to one tenant/business unit/client.
type WorkloadScope struct {
	TenantID       int64
	BusinessUnitID int64
	ClientID       int64
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// Create inserts the ticket and assigns its id and tenant-scoped number.
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	// GetForUpdate reads the ticket under a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error)
	// UpdateFields writes only the listed columns.
	UpdateFields(ctx context.Context, ticket *domain.Ticket, fields ...domain.TicketField) error
	// IncrementLevel atomically bumps level from fromLevel and returns the new level.
	IncrementLevel(ctx context.Context, id int64, fromLevel int) (int, error)
	AppendWorkflow(ctx context.Context, id int64, entry domain.WorkflowEntry) error
	CountOpenByAssignee(ctx context.Context, scope WorkloadScope, personIDs []int64) (map[int64]int, error)
	CategoryHistory(ctx context.Context, tenantID, categoryID int64, personIDs []int64, since time.Time) (map[int64]int, error)
	FindAutoCreated(ctx context.Context, tenantID, siteID int64, findingType string, since time.Time) (*domain.Ticket, error)
}

// PersonRepository handles persistence for assignable people.
type PersonRepository interface {
	Create(ctx context.Context, person *domain.Person) error
	GetByID(ctx context.Context, id int64) (*domain.Person, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.Person, error)
	// ListEligible returns active people in scope ordered by id.
	ListEligible(ctx context.Context, scope WorkloadScope) ([]domain.Person, error)
}

// GroupRepository manages persistence for assignee groups.
type GroupRepository interface {
	Create(ctx context.Context, group *domain.Group) error
	GetByID(ctx context.Context, id int64) (*domain.Group, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.Group, error)
}

// EscalationRepository reads the escalation matrix and escalation aggregates.
// AllTenants lifts the tenant filter of the escalation scans.
const AllTenants int64 = 0

type EscalationRepository interface {
	UpsertEntry(ctx context.Context, entry *domain.MatrixEntry) error
	GetEntry(ctx context.Context, tenantID, categoryID int64, level int) (*domain.MatrixEntry, error)
	ListEntries(ctx context.Context, tenantID int64) ([]domain.MatrixEntry, error)
	// ListCandidates returns every non-terminal ticket of tenantID, or of all
	// tenants when tenantID is AllTenants, with the matrix entry for its next
	// level, in a single round trip.
	ListCandidates(ctx context.Context, tenantID int64) ([]domain.EscalationCandidate, error)
	// Stats aggregates per-tenant counts since the given time in a single round
	// trip, scoped like ListCandidates.
	Stats(ctx context.Context, tenantID int64, since time.Time) ([]domain.TenantEscalationStats, error)
}

// FindingRepository stores received findings and their outcome.
type FindingRepository interface {
	Create(ctx context.Context, finding *domain.Finding) error
}

// AuditRepository stores audit entries.
type AuditRepository interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.AuditEvent, error)
}

// Store groups repositories that share a transaction.
type Store interface {
	Tickets() TicketRepository
	People() PersonRepository
	Groups() GroupRepository
	Escalations() EscalationRepository
	Findings() FindingRepository
	Audit() AuditRepository
	// WithinTx runs fn in a transaction; the tx Store passed to fn is bound to it.
	// A non-nil error from fn rolls the transaction back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
