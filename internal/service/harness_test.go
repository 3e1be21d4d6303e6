package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/audit"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/lock"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/repository/memstore"
)

const (
	tenantID   = int64(1)
	hardwareID = int64(7)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

type fixture struct {
	store      *memstore.Store
	locker     *lock.MemoryLocker
	clock      *fakeClock
	notifier   *recordingNotifier
	deps       Dependencies
	tickets    *TicketService
	assignment *AssignmentService
	escalation *EscalationService
	directory  *DirectoryService
	admin      *domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.AddCategory(hardwareID, "Hardware")
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	f := &fixture{
		store:    store,
		locker:   lock.NewMemoryLocker(2 * time.Millisecond),
		clock:    clock,
		notifier: &recordingNotifier{},
		admin:    &domain.Actor{ID: 100, TenantID: tenantID, BusinessUnitID: 1, Name: "root", Role: domain.RoleAdmin},
	}
	f.deps = Dependencies{
		Store:       store,
		Locker:      f.locker,
		LockOptions: lock.Options{Timeout: 5 * time.Second, BlockingTimeout: 2 * time.Second},
		Audit:       audit.NewRecorder(audit.NewStoreSink(store.Audit()), logger, audit.WithClock(clock.Now)),
		Metrics:     observability.NewMetrics(),
		Logger:      logger,
		Now:         clock.Now,
	}
	f.rebuild()
	return f
}

// rebuild recreates the services after f.deps changes.
func (f *fixture) rebuild() {
	f.tickets = NewTicketService(f.deps, nil)
	f.assignment = NewAssignmentService(f.deps, AssignmentConfig{SpecialistLookback: 30 * 24 * time.Hour})
	f.escalation = NewEscalationService(f.deps, EscalationOptions{Notifier: f.notifier})
	f.directory = NewDirectoryService(f.deps)
}

// settle waits for background escalation notifications.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.escalation.Wait(ctx))
}

func (f *fixture) createTicket(t *testing.T, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), f.admin, TicketCreateInput{
		BusinessUnitID: 1,
		ClientID:       1,
		CategoryID:     hardwareID,
		Title:          "laptop will not boot",
		Priority:       string(priority),
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) addPerson(t *testing.T, name string) *domain.Person {
	t.Helper()
	p := &domain.Person{TenantID: tenantID, BusinessUnitID: 1, ClientID: 1, Name: name, Email: name + "@example.com", Active: true}
	require.NoError(t, f.store.People().Create(context.Background(), p))
	return p
}

func (f *fixture) addGroup(t *testing.T, name string) *domain.Group {
	t.Helper()
	g := &domain.Group{TenantID: tenantID, Name: name, Email: name + "@example.com", Active: true}
	require.NoError(t, f.store.Groups().Create(context.Background(), g))
	return g
}

func (f *fixture) ticket(t *testing.T, id int64) *domain.Ticket {
	t.Helper()
	got, err := f.store.Tickets().GetByID(context.Background(), id)
	require.NoError(t, err)
	return got
}

func (f *fixture) auditOf(ticketID int64, eventType domain.AuditEventType) []domain.AuditEvent {
	var out []domain.AuditEvent
	for _, e := range f.store.AuditEvents() {
		if e.TicketID == ticketID && e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func agent(perms ...string) *domain.Actor {
	return &domain.Actor{ID: 200, TenantID: tenantID, BusinessUnitID: 1, Name: "agent", Role: domain.RoleAgent, Permissions: perms}
}

func int64Ptr(v int64) *int64 { return &v }
