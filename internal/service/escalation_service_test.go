package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/lock"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

func (f *fixture) addMatrix(t *testing.T, level int, freq domain.Frequency, value int, personID *int64) {
	t.Helper()
	require.NoError(t, f.store.Escalations().UpsertEntry(context.Background(), &domain.MatrixEntry{
		TenantID:       tenantID,
		CategoryID:     hardwareID,
		Level:          level,
		Frequency:      freq,
		FrequencyValue: value,
		AssignPersonID: personID,
		BodyTemplate:   "{{.Number}} went from {{.FromLevel}} to {{.ToLevel}}",
	}))
}

func TestSweepEscalatesOverdueHardwareTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.addPerson(t, "lead")
	f.addMatrix(t, 1, domain.FrequencyHour, 2, &lead.ID)
	ticket := f.createTicket(t, domain.TicketPriorityHigh)

	f.clock.Advance(3 * time.Hour)
	result, err := f.escalation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Escalated)
	assert.Zero(t, result.Failed)

	got := f.ticket(t, ticket.ID)
	assert.Equal(t, 1, got.Level)
	assert.True(t, got.IsEscalated)
	require.NotNil(t, got.AssigneePersonID)
	assert.Equal(t, lead.ID, *got.AssigneePersonID)
	require.NotNil(t, got.EscalatedAt)
	assert.Equal(t, f.clock.Now(), *got.EscalatedAt)
	assert.Equal(t, domain.WorkflowEscalated, got.Workflow[len(got.Workflow)-1].Action)

	entries := f.auditOf(ticket.ID, domain.AuditTicketEscalated)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, domain.AssignmentEscalation, entries[0].AssignmentType)
	assert.Equal(t, 0, entries[0].Before["level"])
	assert.Equal(t, 1, entries[0].After["level"])
	assert.Equal(t, f.clock.Now(), entries[0].Timestamp)

	f.settle(t)
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "lead@example.com", sent[0].Recipient)
	assert.Equal(t, "T00001 went from 0 to 1", sent[0].Body)

	again, err := f.escalation.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Eligible)
	assert.Equal(t, 1, f.ticket(t, ticket.ID).Level)
}

func TestSweepWaitsForThreshold(t *testing.T) {
	f := newFixture(t)
	f.addMatrix(t, 1, domain.FrequencyHour, 2, nil)
	ticket := f.createTicket(t, domain.TicketPriorityMedium)

	f.clock.Advance(time.Hour)
	result, err := f.escalation.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Zero(t, result.Eligible)
	assert.Zero(t, f.ticket(t, ticket.ID).Level)
	f.settle(t)
	assert.Empty(t, f.notifier.Sent())
}

func TestSweepCumulativeLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMatrix(t, 1, domain.FrequencyMinute, 30, nil)
	f.addMatrix(t, 2, domain.FrequencyDay, 1, nil)
	ticket := f.createTicket(t, domain.TicketPriorityMedium)

	f.clock.Advance(time.Hour)
	_, err := f.escalation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.ticket(t, ticket.ID).Level)

	f.clock.Advance(2 * time.Hour)
	_, err = f.escalation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.ticket(t, ticket.ID).Level)

	f.clock.Advance(24 * time.Hour)
	_, err = f.escalation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ticket(t, ticket.ID).Level)

	f.clock.Advance(7 * 24 * time.Hour)
	result, err := f.escalation.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Eligible, "no level 3 entry")
	assert.Equal(t, 2, f.ticket(t, ticket.ID).Level)
}

func TestSweepSkipsTerminalTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMatrix(t, 1, domain.FrequencyMinute, 1, nil)
	ticket := f.createTicket(t, domain.TicketPriorityMedium)
	_, err := f.tickets.TransitionStatus(ctx, f.admin, ticket.ID, "CANCELLED", "")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	result, err := f.escalation.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)

	// a ticket closed between the scan and the lock is re-checked and skipped
	outcome, err := f.escalation.escalate(ctx, domain.SystemActor(tenantID), ticket.ID, 0, false)
	require.NoError(t, err)
	assert.False(t, outcome.Escalated)
	assert.Equal(t, SkipTerminal, outcome.Reason)
	assert.Zero(t, f.ticket(t, ticket.ID).Level)
}

func TestSweepSkipsStaleLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMatrix(t, 1, domain.FrequencyMinute, 1, nil)
	f.addMatrix(t, 2, domain.FrequencyMinute, 2, nil)
	ticket := f.createTicket(t, domain.TicketPriorityMedium)
	f.clock.Advance(time.Hour)
	_, err := f.store.Tickets().IncrementLevel(ctx, ticket.ID, 0)
	require.NoError(t, err)

	outcome, err := f.escalation.escalate(ctx, domain.SystemActor(tenantID), ticket.ID, 0, false)
	require.NoError(t, err)
	assert.Equal(t, SkipLevelChanged, outcome.Reason)
	assert.Equal(t, 1, f.ticket(t, ticket.ID).Level)
}

func TestConcurrentSweepsIncrementOnce(t *testing.T) {
	f := newFixture(t)
	f.addMatrix(t, 1, domain.FrequencyHour, 2, nil)
	f.addMatrix(t, 2, domain.FrequencyDay, 2, nil)
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, f.createTicket(t, domain.TicketPriorityMedium).ID)
	}
	f.clock.Advance(3 * time.Hour)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		escalated int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.escalation.Sweep(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			escalated += result.Escalated
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, len(ids), escalated)
	for _, id := range ids {
		assert.Equal(t, 1, f.ticket(t, id).Level)
		assert.Len(t, f.auditOf(id, domain.AuditTicketEscalated), 1)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.deps.LockOptions.BlockingTimeout = 20 * time.Millisecond
	f.rebuild()
	ctx := context.Background()
	f.addMatrix(t, 1, domain.FrequencyMinute, 10, nil)
	stuck := f.createTicket(t, domain.TicketPriorityMedium)
	fine := f.createTicket(t, domain.TicketPriorityMedium)
	f.clock.Advance(time.Hour)

	held, err := f.locker.Acquire(ctx, lock.TicketKey(stuck.ID), lock.Options{Timeout: time.Minute})
	require.NoError(t, err)
	defer held.Release(ctx)

	result, err := f.escalation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Eligible)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, stuck.ID, result.Failures[0].TicketID)
	assert.Equal(t, apperrors.CodeLockContended, result.Failures[0].Code)

	assert.Zero(t, f.ticket(t, stuck.ID).Level)
	assert.Equal(t, 1, f.ticket(t, fine.ID).Level)
}

func TestNotificationFailureKeepsEscalation(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	f.addMatrix(t, 1, domain.FrequencyMinute, 5, nil)
	ticket := f.createTicket(t, domain.TicketPriorityMedium)
	f.clock.Advance(time.Hour)

	result, err := f.escalation.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 1, f.ticket(t, ticket.ID).Level)
	f.settle(t)
	assert.Len(t, f.notifier.Sent(), 1)
}

// slowNotifier holds each delivery until its context ends.
type slowNotifier struct {
	mu       sync.Mutex
	deadline []bool
}

func (n *slowNotifier) Notify(ctx context.Context, _ Notification) error {
	<-ctx.Done()
	_, ok := ctx.Deadline()
	n.mu.Lock()
	n.deadline = append(n.deadline, ok)
	n.mu.Unlock()
	return ctx.Err()
}

func TestSweepDoesNotWaitOnNotifications(t *testing.T) {
	f := newFixture(t)
	slow := &slowNotifier{}
	f.escalation = NewEscalationService(f.deps, EscalationOptions{Notifier: slow, NotifyTimeout: 300 * time.Millisecond})
	f.addMatrix(t, 1, domain.FrequencyMinute, 5, nil)
	for i := 0; i < 4; i++ {
		f.createTicket(t, domain.TicketPriorityMedium)
	}
	f.clock.Advance(time.Hour)

	start := time.Now()
	result, err := f.escalation.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Escalated)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.escalation.Wait(ctx))
	slow.mu.Lock()
	defer slow.mu.Unlock()
	assert.Equal(t, []bool{true, true, true, true}, slow.deadline)
}

func TestSweepQueryCountIsBounded(t *testing.T) {
	for _, volume := range []int{3, 60} {
		f := newFixture(t)
		f.addMatrix(t, 1, domain.FrequencyDay, 1, nil)
		for i := 0; i < volume; i++ {
			f.createTicket(t, domain.TicketPriorityMedium)
		}

		f.store.ResetQueries()
		result, err := f.escalation.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, volume, result.Scanned)
		assert.EqualValues(t, 1, f.store.Queries(), "volume %d", volume)

		f.store.ResetQueries()
		_, err = f.escalation.Report(context.Background(), f.admin, f.clock.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 1, f.store.Queries())
	}
}

func TestEscalateTicketManually(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group := f.addGroup(t, "tier2")
	require.NoError(t, f.store.Escalations().UpsertEntry(ctx, &domain.MatrixEntry{
		TenantID: tenantID, CategoryID: hardwareID, Level: 1,
		Frequency: domain.FrequencyWeek, FrequencyValue: 1, AssignGroupID: &group.ID,
	}))
	ticket := f.createTicket(t, domain.TicketPriorityLow)

	_, err := f.escalation.EscalateTicket(ctx, agent(string(auth.ActionChangeTicket)), ticket.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	outcome, err := f.escalation.EscalateTicket(ctx, agent(string(auth.ActionEscalateTicket)), ticket.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Escalated)
	assert.Equal(t, 1, outcome.ToLevel)
	assert.Equal(t, domain.Assignee{Kind: domain.AssigneeGroup, ID: group.ID, Name: "tier2"}, outcome.Assignee)
	f.settle(t)
	require.Len(t, f.notifier.Sent(), 1)
	assert.Contains(t, f.notifier.Sent()[0].Body, "escalated from level 0 to 1")

	_, err = f.escalation.EscalateTicket(ctx, f.admin, ticket.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	_, err = f.escalation.EscalateTicket(ctx, f.admin, 404)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTicketNotFound))
}

func TestHandleFindingDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	finding := func(findingType string) *domain.Finding {
		return &domain.Finding{
			TenantID: tenantID, BusinessUnitID: 1, ClientID: 1, SiteID: 3, CategoryID: hardwareID,
			FindingType: findingType, Severity: domain.SeverityCritical, Summary: "port 23 open",
		}
	}

	first, err := f.escalation.HandleFinding(ctx, finding("open_port"))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, domain.TicketSourceFinding, first.Source)
	assert.Equal(t, domain.TicketPriorityHigh, first.Priority)
	assert.Equal(t, domain.TicketStatusNew, first.Status)

	f.clock.Advance(2 * time.Hour)
	dup, err := f.escalation.HandleFinding(ctx, finding("open_port"))
	require.NoError(t, err)
	assert.Nil(t, dup)

	other, err := f.escalation.HandleFinding(ctx, finding("weak_cipher"))
	require.NoError(t, err)
	require.NotNil(t, other)

	f.clock.Advance(2*time.Hour + time.Minute)
	later, err := f.escalation.HandleFinding(ctx, finding("open_port"))
	require.NoError(t, err)
	require.NotNil(t, later)
	assert.NotEqual(t, first.ID, later.ID)

	assert.Equal(t, 3, f.store.TicketCount())
	outcomes := map[domain.FindingOutcome]int{}
	for _, rec := range f.store.FindingsRecorded() {
		outcomes[rec.Outcome]++
	}
	assert.Equal(t, map[domain.FindingOutcome]int{domain.FindingTicketCreated: 3, domain.FindingDeduplicated: 1}, outcomes)
	assert.Len(t, f.auditOf(first.ID, domain.AuditTicketAutoCreated), 1)
}

func TestHandleFindingSuppressesLowSeverity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, sev := range []domain.Severity{domain.SeverityMedium, domain.SeverityLow, "low"} {
		ticket, err := f.escalation.HandleFinding(ctx, &domain.Finding{
			TenantID: tenantID, SiteID: 3, CategoryID: hardwareID, FindingType: "open_port", Severity: sev,
		})
		require.NoError(t, err)
		assert.Nil(t, ticket)
	}
	assert.Zero(t, f.store.TicketCount())
	for _, rec := range f.store.FindingsRecorded() {
		assert.Equal(t, domain.FindingSuppressed, rec.Outcome)
		assert.Nil(t, rec.TicketID)
	}
	assert.Empty(t, f.store.AuditEvents())
}

func TestHandleFindingValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.escalation.HandleFinding(context.Background(), &domain.Finding{TenantID: tenantID, Severity: "SEVERE"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.escalation.HandleFinding(context.Background(), nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestReportAggregatesTenants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.clock.Now()
	f.addMatrix(t, 1, domain.FrequencyMinute, 5, nil)
	f.createTicket(t, domain.TicketPriorityMedium)
	_, err := f.escalation.HandleFinding(ctx, &domain.Finding{
		TenantID: tenantID, SiteID: 1, CategoryID: hardwareID, FindingType: "malware", Severity: domain.SeverityHigh,
	})
	require.NoError(t, err)
	_, err = f.escalation.HandleFinding(ctx, &domain.Finding{
		TenantID: 2, SiteID: 1, CategoryID: hardwareID, FindingType: "malware", Severity: domain.SeverityLow,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.escalation.Sweep(ctx)
	require.NoError(t, err)

	own := domain.TenantEscalationStats{TenantID: 1, FindingsScanned: 1, Escalated: 2, AutoCreated: 1}
	tests := []struct {
		name    string
		actor   *domain.Actor
		tenants []domain.TenantEscalationStats
		scanned int
	}{
		{"superuser sees every tenant", domain.SystemActor(tenantID), []domain.TenantEscalationStats{own, {TenantID: 2, FindingsScanned: 1}}, 2},
		{"tenant admin sees own tenant", f.admin, []domain.TenantEscalationStats{own}, 1},
		{"other tenant admin", &domain.Actor{ID: 300, TenantID: 2, Role: domain.RoleAdmin}, []domain.TenantEscalationStats{{TenantID: 2, FindingsScanned: 1}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := f.escalation.Report(ctx, tt.actor, start)
			require.NoError(t, err)
			assert.Equal(t, tt.tenants, report.Tenants)
			assert.Equal(t, tt.scanned, report.Totals.FindingsScanned)
			assert.Equal(t, f.clock.Now(), report.GeneratedAt)
		})
	}

	_, err = f.escalation.Report(ctx, nil, start)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnauthorized))
	_, err = f.escalation.Report(ctx, &domain.Actor{ID: 1, Role: domain.RoleAdmin}, start)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))
}

func TestSweepForStaysInTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMatrix(t, 1, domain.FrequencyMinute, 5, nil)
	require.NoError(t, f.store.Escalations().UpsertEntry(ctx, &domain.MatrixEntry{
		TenantID: 2, CategoryID: hardwareID, Level: 1, Frequency: domain.FrequencyMinute, FrequencyValue: 5,
	}))
	own := f.createTicket(t, domain.TicketPriorityMedium)
	foreign := &domain.Ticket{
		TenantID: 2, BusinessUnitID: 1, ClientID: 1, CategoryID: hardwareID, Title: "vpn down",
		Status: domain.TicketStatusNew, Priority: domain.TicketPriorityMedium, Source: domain.TicketSourceManual,
		CreatedAt: f.clock.Now(), ModifiedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.Tickets().Create(ctx, foreign))
	f.clock.Advance(time.Hour)

	result, err := f.escalation.SweepFor(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 1, f.ticket(t, own.ID).Level)
	assert.Zero(t, f.ticket(t, foreign.ID).Level)

	result, err = f.escalation.SweepFor(ctx, domain.SystemActor(tenantID))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 1, f.ticket(t, foreign.ID).Level)

	_, err = f.escalation.SweepFor(ctx, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnauthorized))
}
