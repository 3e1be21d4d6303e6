package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
)

func newTicket(tenant int64, created time.Time) *domain.Ticket {
	return &domain.Ticket{
		TenantID:       tenant,
		BusinessUnitID: 1,
		ClientID:       1,
		Title:          "printer jam",
		Status:         domain.TicketStatusNew,
		Priority:       domain.TicketPriorityMedium,
		CategoryID:     7,
		CreatedAt:      created,
		ModifiedAt:     created,
	}
}

func TestCreateNumbersPerTenant(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddCategory(7, "Hardware")

	a := newTicket(1, time.Now())
	b := newTicket(1, time.Now())
	c := newTicket(2, time.Now())
	require.NoError(t, s.Tickets().Create(ctx, a))
	require.NoError(t, s.Tickets().Create(ctx, b))
	require.NoError(t, s.Tickets().Create(ctx, c))

	assert.Equal(t, "T00001", a.Number)
	assert.Equal(t, "T00002", b.Number)
	assert.Equal(t, "T00001", c.Number)

	got, err := s.Tickets().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hardware", got.CategoryName)
}

func TestGetMissingTicket(t *testing.T) {
	_, err := New().Tickets().GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	ticket := newTicket(1, time.Now())
	require.NoError(t, s.Tickets().Create(ctx, ticket))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		ticket.Status = domain.TicketStatusAssigned
		require.NoError(t, tx.Tickets().UpdateFields(ctx, ticket, domain.FieldStatus))
		require.NoError(t, tx.Audit().Create(ctx, &domain.AuditEvent{ID: "a", TicketID: ticket.ID}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, got.Status)
	assert.Len(t, s.AuditEvents(), 1)
}

func TestIncrementLevelGuarded(t *testing.T) {
	ctx := context.Background()
	s := New()
	ticket := newTicket(1, time.Now())
	require.NoError(t, s.Tickets().Create(ctx, ticket))

	lvl, err := s.Tickets().IncrementLevel(ctx, ticket.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, lvl)

	_, err = s.Tickets().IncrementLevel(ctx, ticket.ID, 0)
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestListEligibleOrderedByID(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"ana", "bo", "cy"} {
		require.NoError(t, s.People().Create(ctx, &domain.Person{TenantID: 1, BusinessUnitID: 1, ClientID: 1, Name: name, Active: true}))
	}
	require.NoError(t, s.People().Create(ctx, &domain.Person{TenantID: 1, BusinessUnitID: 1, ClientID: 1, Name: "off"}))

	people, err := s.People().ListEligible(ctx, repository.WorkloadScope{TenantID: 1, BusinessUnitID: 1, ClientID: 1})
	require.NoError(t, err)
	require.Len(t, people, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{people[0].ID, people[1].ID, people[2].ID})
}

func TestCountOpenExcludesResolved(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, st := range []domain.TicketStatus{domain.TicketStatusAssigned, domain.TicketStatusInProgress, domain.TicketStatusResolved} {
		tk := newTicket(1, time.Now())
		tk.Status = st
		tk.AssignPerson(5)
		require.NoError(t, s.Tickets().Create(ctx, tk))
	}
	counts, err := s.Tickets().CountOpenByAssignee(ctx, repository.WorkloadScope{TenantID: 1, BusinessUnitID: 1, ClientID: 1}, []int64{5, 6})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{5: 2}, counts)
}

func TestListCandidatesSingleQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Escalations().UpsertEntry(ctx, &domain.MatrixEntry{
		TenantID: 1, CategoryID: 7, Level: 1, Frequency: domain.FrequencyHour, FrequencyValue: 2,
	}))
	for i := 0; i < 25; i++ {
		require.NoError(t, s.Tickets().Create(ctx, newTicket(1, time.Now())))
	}
	closed := newTicket(1, time.Now())
	closed.Status = domain.TicketStatusClosed
	require.NoError(t, s.Tickets().Create(ctx, closed))

	s.ResetQueries()
	candidates, err := s.Escalations().ListCandidates(ctx, repository.AllTenants)
	require.NoError(t, err)
	assert.Len(t, candidates, 25)
	assert.EqualValues(t, 1, s.Queries())
	require.NotNil(t, candidates[0].Next)
	assert.Equal(t, 1, candidates[0].Next.Level)
}

func TestEscalationScansHonorTenantScope(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	for _, tenant := range []int64{1, 1, 2} {
		require.NoError(t, s.Tickets().Create(ctx, newTicket(tenant, now)))
	}
	for _, tenant := range []int64{1, 2} {
		require.NoError(t, s.Findings().Create(ctx, &domain.Finding{TenantID: tenant, ObservedAt: now}))
	}

	tests := []struct {
		name       string
		scope      int64
		candidates int
		tenants    []int64
	}{
		{"all tenants", repository.AllTenants, 3, []int64{1, 2}},
		{"tenant 1", 1, 2, []int64{1}},
		{"tenant 2", 2, 1, []int64{2}},
		{"unknown tenant", 9, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates, err := s.Escalations().ListCandidates(ctx, tt.scope)
			require.NoError(t, err)
			assert.Len(t, candidates, tt.candidates)

			stats, err := s.Escalations().Stats(ctx, tt.scope, now.Add(-time.Hour))
			require.NoError(t, err)
			var tenants []int64
			for _, row := range stats {
				tenants = append(tenants, row.TenantID)
			}
			assert.Equal(t, tt.tenants, tenants)
		})
	}
}

func TestFindAutoCreatedWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	site := int64(3)
	tk := newTicket(1, now.Add(-time.Hour))
	tk.Source = domain.TicketSourceFinding
	tk.SiteID = &site
	tk.FindingType = "open_port"
	require.NoError(t, s.Tickets().Create(ctx, tk))

	got, err := s.Tickets().FindAutoCreated(ctx, 1, 3, "open_port", now.Add(-4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)

	_, err = s.Tickets().FindAutoCreated(ctx, 1, 3, "open_port", now.Add(-30*time.Minute))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Tickets().FindAutoCreated(ctx, 1, 3, "weak_cipher", now.Add(-4*time.Hour))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
