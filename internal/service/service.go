package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/audit"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/lock"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// Dependencies bundles the collaborators shared by the ticket engine services.
type Dependencies struct {
	Store       repository.Store
	Locker      lock.Locker
	LockOptions lock.Options
	Audit       *audit.Recorder
	Permissions auth.PermissionChecker
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	// Now is the clock; tests replace it to simulate elapsed time.
	Now func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Permissions == nil {
		d.Permissions = auth.NewRolePermissionChecker()
	}
	if d.Audit == nil {
		d.Audit = audit.NewRecorder(nil, d.Logger, audit.WithClock(d.Now))
	}
	if d.Dispatcher == nil {
		d.Dispatcher = events.NewInMemoryDispatcher(d.Logger)
	}
	if d.LockOptions.Timeout <= 0 {
		d.LockOptions.Timeout = 30 * time.Second
	}
	if d.LockOptions.BlockingTimeout <= 0 {
		d.LockOptions.BlockingTimeout = 10 * time.Second
	}
	return d
}

// withLock runs fn while holding the named lock. A lock that cannot be taken
// within the blocking window surfaces as LOCK_CONTENDED and is not retried.
func (d Dependencies) withLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	handle, err := d.Locker.Acquire(ctx, name, d.LockOptions)
	d.Metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		if errors.Is(err, lock.ErrAcquisition) {
			d.Logger.Warn("lock contended", zap.String("lock", name), zap.Error(err))
			return apperrors.NewLockContended(name, err)
		}
		return apperrors.NewInternalError(fmt.Errorf("acquire %s: %w", name, err))
	}
	defer func() {
		if rerr := handle.Release(context.WithoutCancel(ctx)); rerr != nil {
			d.Logger.Warn("lock release failed", zap.String("lock", name), zap.Error(rerr))
		}
	}()
	return fn(ctx)
}

func (d Dependencies) authorize(actor *domain.Actor, action auth.Action, ticket *domain.Ticket) error {
	if actor == nil {
		return apperrors.NewUnauthorized("actor required")
	}
	scope := auth.Scope{TenantID: ticket.TenantID, BusinessUnitID: ticket.BusinessUnitID}
	if !d.Permissions.HasPermission(actor, action, scope) {
		return apperrors.NewDomainError(apperrors.CodeForbidden, "permission denied", http.StatusForbidden,
			map[string]any{"action": string(action), "ticket_id": ticket.ID})
	}
	return nil
}

// record stamps event from the engine clock so audit times line up with the
// ticket fields written in the same operation.
func (d Dependencies) record(ctx context.Context, event domain.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.Now()
	}
	d.Audit.Record(ctx, event)
}

func (d Dependencies) publish(ctx context.Context, event events.Event) {
	if err := d.Dispatcher.Publish(ctx, event); err != nil {
		d.Logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

// loadTicket reads the ticket under its row lock, hiding tickets of other
// tenants from non-superusers.
func loadTicket(ctx context.Context, tx repository.Store, actor *domain.Actor, ticketID int64) (*domain.Ticket, error) {
	ticket, err := tx.Tickets().GetForUpdate(ctx, ticketID)
	if err != nil {
		return nil, ticketErr(ticketID, err)
	}
	if actor != nil && !actor.IsSuperuser && actor.TenantID != ticket.TenantID {
		return nil, apperrors.NewTicketNotFound(ticketID)
	}
	return ticket, nil
}

func ticketErr(ticketID int64, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewTicketNotFound(ticketID)
	}
	return err
}

// describeAssignee resolves the display name of the occupied assignee slot.
func describeAssignee(ctx context.Context, tx repository.Store, a domain.Assignee) domain.Assignee {
	switch a.Kind {
	case domain.AssigneePerson:
		if p, err := tx.People().GetByID(ctx, a.ID); err == nil {
			a.Name = p.Name
		}
	case domain.AssigneeGroup:
		if g, err := tx.Groups().GetByID(ctx, a.ID); err == nil {
			a.Name = g.Name
		}
	}
	return a
}

func assigneeMap(a domain.Assignee) map[string]any {
	m := map[string]any{"kind": string(a.Kind)}
	if a.Kind != domain.AssigneeNone {
		m["id"] = a.ID
		m["name"] = a.Name
	}
	return m
}

func actorID(actor *domain.Actor) int64 {
	if actor == nil {
		return 0
	}
	return actor.ID
}
