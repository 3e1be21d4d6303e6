// Package memstore is an in-process repository.Store used when no Postgres DSN
// is configured and as the store behind service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
)

type state struct {
	nextID     map[string]int64
	sequences  map[int64]int64
	categories map[int64]string
	tickets    map[int64]*domain.Ticket
	people     map[int64]domain.Person
	groups     map[int64]domain.Group
	matrix     map[matrixKey]domain.MatrixEntry
	findings   []domain.Finding
	audit      []domain.AuditEvent
}

type matrixKey struct {
	tenantID   int64
	categoryID int64
	level      int
}

// Store keeps every table in maps guarded by one mutex. Transactions are
// serialized and roll back by restoring a snapshot taken at begin. The audit
// table is excluded from rollback: audit sinks write outside the engine's
// transactions.
type Store struct {
	mu      sync.Mutex
	txMu    sync.Mutex
	st      *state
	queries atomic.Int64
}

// New returns an empty store.
func New() *Store {
	return &Store{st: &state{
		nextID:     make(map[string]int64),
		sequences:  make(map[int64]int64),
		categories: make(map[int64]string),
		tickets:    make(map[int64]*domain.Ticket),
		people:     make(map[int64]domain.Person),
		groups:     make(map[int64]domain.Group),
		matrix:     make(map[matrixKey]domain.MatrixEntry),
	}}
}

// Queries reports how many repository calls reached the store.
func (s *Store) Queries() int64 { return s.queries.Load() }

// ResetQueries zeroes the round-trip counter.
func (s *Store) ResetQueries() { s.queries.Store(0) }

// AddCategory registers a category name for ticket reads.
func (s *Store) AddCategory(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.categories[id] = name
}

// AuditEvents returns a copy of every stored audit event.
func (s *Store) AuditEvents() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEvent(nil), s.st.audit...)
}

// FindingsRecorded returns a copy of every stored finding.
func (s *Store) FindingsRecorded() []domain.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Finding(nil), s.st.findings...)
}

// TicketCount reports how many tickets exist.
func (s *Store) TicketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.tickets)
}

func (s *Store) Tickets() repository.TicketRepository         { return &tickets{s} }
func (s *Store) People() repository.PersonRepository          { return &people{s} }
func (s *Store) Groups() repository.GroupRepository           { return &groups{s} }
func (s *Store) Escalations() repository.EscalationRepository { return &escalations{s} }
func (s *Store) Findings() repository.FindingRepository       { return &findings{s} }
func (s *Store) Audit() repository.AuditRepository            { return &audits{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, &txStore{s}); err != nil {
		s.mu.Lock()
		snapshot.audit = s.st.audit
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// txStore is the Store handed to WithinTx callbacks; nested calls join the
// outer transaction.
type txStore struct {
	*Store
}

func (t *txStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return fn(ctx, t)
}

// do runs fn under the state mutex and counts one round trip.
func (s *Store) do(fn func(st *state) error) error {
	s.queries.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (st *state) id(table string) int64 {
	st.nextID[table]++
	return st.nextID[table]
}

func (st *state) clone() *state {
	c := &state{
		nextID:     make(map[string]int64, len(st.nextID)),
		sequences:  make(map[int64]int64, len(st.sequences)),
		categories: make(map[int64]string, len(st.categories)),
		tickets:    make(map[int64]*domain.Ticket, len(st.tickets)),
		people:     make(map[int64]domain.Person, len(st.people)),
		groups:     make(map[int64]domain.Group, len(st.groups)),
		matrix:     make(map[matrixKey]domain.MatrixEntry, len(st.matrix)),
		findings:   append([]domain.Finding(nil), st.findings...),
	}
	for k, v := range st.nextID {
		c.nextID[k] = v
	}
	for k, v := range st.sequences {
		c.sequences[k] = v
	}
	for k, v := range st.categories {
		c.categories[k] = v
	}
	for k, v := range st.tickets {
		c.tickets[k] = cloneTicket(v)
	}
	for k, v := range st.people {
		c.people[k] = v
	}
	for k, v := range st.groups {
		c.groups[k] = v
	}
	for k, v := range st.matrix {
		c.matrix[k] = v
	}
	return c
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	c := *t
	c.AssigneePersonID = clonePtr(t.AssigneePersonID)
	c.AssigneeGroupID = clonePtr(t.AssigneeGroupID)
	c.SiteID = clonePtr(t.SiteID)
	c.ResolvedAt = clonePtr(t.ResolvedAt)
	c.EscalatedAt = clonePtr(t.EscalatedAt)
	c.Workflow = append([]domain.WorkflowEntry{}, t.Workflow...)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (st *state) readTicket(id int64) (*domain.Ticket, error) {
	t, ok := st.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneTicket(t)
	c.CategoryName = st.categories[t.CategoryID]
	return c, nil
}

func isOpenWorkload(status domain.TicketStatus) bool {
	switch status {
	case domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusCancelled:
		return false
	}
	return true
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type tickets struct{ s *Store }

func (r *tickets) Create(_ context.Context, ticket *domain.Ticket) error {
	return r.s.do(func(st *state) error {
		st.sequences[ticket.TenantID]++
		ticket.Number = domain.FormatTicketNumber(st.sequences[ticket.TenantID])
		ticket.ID = st.id("tickets")
		if ticket.Workflow == nil {
			ticket.Workflow = []domain.WorkflowEntry{}
		}
		ticket.CategoryName = st.categories[ticket.CategoryID]
		st.tickets[ticket.ID] = cloneTicket(ticket)
		return nil
	})
}

func (r *tickets) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := r.s.do(func(st *state) (err error) {
		out, err = st.readTicket(id)
		return err
	})
	return out, err
}

// GetForUpdate needs no extra locking: transactions are already serialized.
func (r *tickets) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *tickets) UpdateFields(_ context.Context, ticket *domain.Ticket, fields ...domain.TicketField) error {
	if len(fields) == 0 {
		return nil
	}
	return r.s.do(func(st *state) error {
		stored, ok := st.tickets[ticket.ID]
		if !ok {
			return repository.ErrNotFound
		}
		for _, f := range fields {
			switch f {
			case domain.FieldStatus:
				stored.Status = ticket.Status
			case domain.FieldPriority:
				stored.Priority = ticket.Priority
			case domain.FieldLevel:
				stored.Level = ticket.Level
			case domain.FieldIsEscalated:
				stored.IsEscalated = ticket.IsEscalated
			case domain.FieldAssigneePersonID:
				stored.AssigneePersonID = clonePtr(ticket.AssigneePersonID)
			case domain.FieldAssigneeGroupID:
				stored.AssigneeGroupID = clonePtr(ticket.AssigneeGroupID)
			case domain.FieldModifiedByID:
				stored.ModifiedByID = ticket.ModifiedByID
			case domain.FieldModifiedAt:
				stored.ModifiedAt = ticket.ModifiedAt
			case domain.FieldResolvedAt:
				stored.ResolvedAt = clonePtr(ticket.ResolvedAt)
			case domain.FieldEscalatedAt:
				stored.EscalatedAt = clonePtr(ticket.EscalatedAt)
			}
		}
		return nil
	})
}

func (r *tickets) IncrementLevel(_ context.Context, id int64, fromLevel int) (int, error) {
	var level int
	err := r.s.do(func(st *state) error {
		stored, ok := st.tickets[id]
		if !ok || stored.Level != fromLevel {
			return repository.ErrConflict
		}
		stored.Level++
		level = stored.Level
		return nil
	})
	return level, err
}

func (r *tickets) AppendWorkflow(_ context.Context, id int64, entry domain.WorkflowEntry) error {
	return r.s.do(func(st *state) error {
		stored, ok := st.tickets[id]
		if !ok {
			return repository.ErrNotFound
		}
		stored.Workflow = append(stored.Workflow, entry)
		return nil
	})
}

func (r *tickets) CountOpenByAssignee(_ context.Context, scope repository.WorkloadScope, personIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int)
	err := r.s.do(func(st *state) error {
		for _, t := range st.tickets {
			if t.TenantID != scope.TenantID || t.BusinessUnitID != scope.BusinessUnitID || t.ClientID != scope.ClientID {
				continue
			}
			if t.AssigneePersonID == nil || !contains(personIDs, *t.AssigneePersonID) || !isOpenWorkload(t.Status) {
				continue
			}
			counts[*t.AssigneePersonID]++
		}
		return nil
	})
	return counts, err
}

func (r *tickets) CategoryHistory(_ context.Context, tenantID, categoryID int64, personIDs []int64, since time.Time) (map[int64]int, error) {
	counts := make(map[int64]int)
	err := r.s.do(func(st *state) error {
		for _, t := range st.tickets {
			if t.TenantID != tenantID || t.CategoryID != categoryID || t.CreatedAt.Before(since) {
				continue
			}
			if t.AssigneePersonID != nil && contains(personIDs, *t.AssigneePersonID) {
				counts[*t.AssigneePersonID]++
			}
		}
		return nil
	})
	return counts, err
}

func (r *tickets) FindAutoCreated(_ context.Context, tenantID, siteID int64, findingType string, since time.Time) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := r.s.do(func(st *state) error {
		var latest *domain.Ticket
		for _, t := range st.tickets {
			if t.TenantID != tenantID || t.Source != domain.TicketSourceFinding || t.FindingType != findingType {
				continue
			}
			if t.SiteID == nil || *t.SiteID != siteID || t.CreatedAt.Before(since) {
				continue
			}
			if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
				latest = t
			}
		}
		if latest == nil {
			return repository.ErrNotFound
		}
		var err error
		out, err = st.readTicket(latest.ID)
		return err
	})
	return out, err
}

type people struct{ s *Store }

func (r *people) Create(_ context.Context, person *domain.Person) error {
	return r.s.do(func(st *state) error {
		person.ID = st.id("people")
		st.people[person.ID] = *person
		return nil
	})
}

func (r *people) GetByID(_ context.Context, id int64) (*domain.Person, error) {
	var out *domain.Person
	err := r.s.do(func(st *state) error {
		p, ok := st.people[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *people) GetForUpdate(ctx context.Context, id int64) (*domain.Person, error) {
	return r.GetByID(ctx, id)
}

func (r *people) ListEligible(_ context.Context, scope repository.WorkloadScope) ([]domain.Person, error) {
	var out []domain.Person
	err := r.s.do(func(st *state) error {
		for _, p := range st.people {
			if p.Active && p.TenantID == scope.TenantID && p.BusinessUnitID == scope.BusinessUnitID && p.ClientID == scope.ClientID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type groups struct{ s *Store }

func (r *groups) Create(_ context.Context, group *domain.Group) error {
	return r.s.do(func(st *state) error {
		group.ID = st.id("groups")
		st.groups[group.ID] = *group
		return nil
	})
}

func (r *groups) GetByID(_ context.Context, id int64) (*domain.Group, error) {
	var out *domain.Group
	err := r.s.do(func(st *state) error {
		g, ok := st.groups[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &g
		return nil
	})
	return out, err
}

func (r *groups) GetForUpdate(ctx context.Context, id int64) (*domain.Group, error) {
	return r.GetByID(ctx, id)
}

type escalations struct{ s *Store }

func (r *escalations) UpsertEntry(_ context.Context, e *domain.MatrixEntry) error {
	return r.s.do(func(st *state) error {
		key := matrixKey{e.TenantID, e.CategoryID, e.Level}
		if existing, ok := st.matrix[key]; ok {
			e.ID = existing.ID
		} else {
			e.ID = st.id("escalation_matrix")
		}
		st.matrix[key] = *e
		return nil
	})
}

func (r *escalations) GetEntry(_ context.Context, tenantID, categoryID int64, level int) (*domain.MatrixEntry, error) {
	var out *domain.MatrixEntry
	err := r.s.do(func(st *state) error {
		e, ok := st.matrix[matrixKey{tenantID, categoryID, level}]
		if !ok {
			return repository.ErrNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r *escalations) ListEntries(_ context.Context, tenantID int64) ([]domain.MatrixEntry, error) {
	var out []domain.MatrixEntry
	err := r.s.do(func(st *state) error {
		for k, e := range st.matrix {
			if k.tenantID == tenantID {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryID != out[j].CategoryID {
			return out[i].CategoryID < out[j].CategoryID
		}
		return out[i].Level < out[j].Level
	})
	return out, err
}

func (r *escalations) ListCandidates(_ context.Context, tenantID int64) ([]domain.EscalationCandidate, error) {
	var out []domain.EscalationCandidate
	err := r.s.do(func(st *state) error {
		for id, t := range st.tickets {
			if t.Status.IsTerminal() || !inScope(tenantID, t.TenantID) {
				continue
			}
			c := domain.EscalationCandidate{}
			ticket, _ := st.readTicket(id)
			c.Ticket = *ticket
			if e, ok := st.matrix[matrixKey{t.TenantID, t.CategoryID, t.Level + 1}]; ok {
				entry := e
				c.Next = &entry
			}
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticket.TenantID != out[j].Ticket.TenantID {
			return out[i].Ticket.TenantID < out[j].Ticket.TenantID
		}
		return out[i].Ticket.ID < out[j].Ticket.ID
	})
	return out, err
}

func (r *escalations) Stats(_ context.Context, tenantID int64, since time.Time) ([]domain.TenantEscalationStats, error) {
	byTenant := make(map[int64]*domain.TenantEscalationStats)
	row := func(tenantID int64) *domain.TenantEscalationStats {
		s, ok := byTenant[tenantID]
		if !ok {
			s = &domain.TenantEscalationStats{TenantID: tenantID}
			byTenant[tenantID] = s
		}
		return s
	}
	err := r.s.do(func(st *state) error {
		for _, f := range st.findings {
			if inScope(tenantID, f.TenantID) && !f.ObservedAt.Before(since) {
				row(f.TenantID).FindingsScanned++
			}
		}
		for _, t := range st.tickets {
			if !inScope(tenantID, t.TenantID) {
				continue
			}
			if t.EscalatedAt != nil && !t.EscalatedAt.Before(since) {
				row(t.TenantID).Escalated++
			}
			if t.Source == domain.TicketSourceFinding && !t.CreatedAt.Before(since) {
				row(t.TenantID).AutoCreated++
			}
			if t.ResolvedAt != nil && !t.ResolvedAt.Before(since) {
				row(t.TenantID).Resolved++
			}
		}
		return nil
	})
	out := make([]domain.TenantEscalationStats, 0, len(byTenant))
	for _, s := range byTenant {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, err
}

func inScope(scope, tenantID int64) bool {
	return scope == repository.AllTenants || scope == tenantID
}

type findings struct{ s *Store }

func (r *findings) Create(_ context.Context, f *domain.Finding) error {
	return r.s.do(func(st *state) error {
		f.ID = st.id("findings")
		st.findings = append(st.findings, *f)
		return nil
	})
}

type audits struct{ s *Store }

func (r *audits) Create(_ context.Context, e *domain.AuditEvent) error {
	return r.s.do(func(st *state) error {
		st.audit = append(st.audit, *e)
		return nil
	})
}

func (r *audits) ListByTicket(_ context.Context, ticketID int64) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	err := r.s.do(func(st *state) error {
		for _, e := range st.audit {
			if e.TicketID == ticketID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}
