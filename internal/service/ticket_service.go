package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/lock"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// TicketService owns ticket intake and the status path.
type TicketService struct {
	deps     Dependencies
	workflow *StateMachine
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	BusinessUnitID int64
	ClientID       int64
	CategoryID     int64
	Title          string
	Description    string
	Priority       string
}

// NewTicketService constructs the service.
func NewTicketService(deps Dependencies, workflow *StateMachine) *TicketService {
	deps = deps.withDefaults()
	if workflow == nil {
		workflow = NewStateMachine(deps.Audit, deps.Metrics, deps.Logger)
	}
	return &TicketService{deps: deps, workflow: workflow}
}

// CreateTicket opens a NEW ticket at level 0 with its SLA deadline.
func (s *TicketService) CreateTicket(ctx context.Context, actor *domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", nil)
	}
	if input.CategoryID <= 0 {
		return nil, apperrors.NewValidationError("category_id is required", nil)
	}
	priority := domain.TicketPriorityMedium
	if input.Priority != "" {
		p, ok := domain.ParsePriority(input.Priority)
		if !ok {
			return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": input.Priority})
		}
		priority = p
	}
	businessUnit := input.BusinessUnitID
	if businessUnit == 0 {
		businessUnit = actor.BusinessUnitID
	}

	now := s.deps.Now()
	ticket := &domain.Ticket{
		TenantID:       actor.TenantID,
		BusinessUnitID: businessUnit,
		ClientID:       input.ClientID,
		Title:          title,
		Description:    strings.TrimSpace(input.Description),
		Status:         domain.TicketStatusNew,
		Priority:       priority,
		CategoryID:     input.CategoryID,
		CreatedByID:    actor.ID,
		ModifiedByID:   actor.ID,
		Source:         domain.TicketSourceManual,
		CreatedAt:      now,
		ModifiedAt:     now,
		DueAt:          now.Add(priority.SLA()),
	}
	if err := s.deps.authorize(actor, auth.ActionChangeTicket, ticket); err != nil {
		return nil, err
	}
	ticket.Workflow = []domain.WorkflowEntry{{
		Action:  domain.WorkflowCreated,
		ActorID: actor.ID,
		At:      now,
		Payload: map[string]any{"priority": string(priority)},
	}}

	err := s.deps.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return tx.Tickets().Create(ctx, ticket)
	})
	if err != nil {
		s.deps.Logger.Error("create ticket failed", zap.Int64("tenant_id", ticket.TenantID), zap.Error(err))
		return nil, apperrors.MapError(err)
	}

	s.deps.publish(ctx, events.New(events.EventTicketCreated, ticket.ID, actor, now, events.TicketCreatedPayload{
		Number:     ticket.Number,
		CategoryID: ticket.CategoryID,
		Priority:   ticket.Priority,
		Title:      ticket.Title,
	}))
	return ticket, nil
}

// GetTicket fetches a ticket visible to the actor's tenant.
func (s *TicketService) GetTicket(ctx context.Context, actor *domain.Actor, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.deps.Store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(ticketErr(ticketID, err))
	}
	if actor == nil || (!actor.IsSuperuser && actor.TenantID != ticket.TenantID) {
		return nil, apperrors.NewTicketNotFound(ticketID)
	}
	return ticket, nil
}

// ListWorkflow returns the ticket's history log, oldest first.
func (s *TicketService) ListWorkflow(ctx context.Context, actor *domain.Actor, ticketID int64) ([]domain.WorkflowEntry, error) {
	ticket, err := s.GetTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	return ticket.Workflow, nil
}

// ListAudit returns the audit entries recorded for the ticket.
func (s *TicketService) ListAudit(ctx context.Context, actor *domain.Actor, ticketID int64) ([]domain.AuditEvent, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.deps.Store.Audit().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// TransitionStatus moves a ticket to target under the ticket lock.
func (s *TicketService) TransitionStatus(ctx context.Context, actor *domain.Actor, ticketID int64, target, comment string) (*domain.Ticket, error) {
	targetStatus, ok := domain.ParseStatus(target)
	if !ok {
		// let the state machine record and reject the unknown target
		targetStatus = domain.TicketStatus(strings.ToUpper(strings.TrimSpace(target)))
	}

	var (
		ticket     *domain.Ticket
		previous   domain.TicketStatus
		validation *domain.AuditEvent
	)
	err := s.deps.withLock(ctx, lock.TicketKey(ticketID), func(ctx context.Context) error {
		return s.deps.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			t, err := loadTicket(ctx, tx, actor, ticketID)
			if err != nil {
				return err
			}
			if err := s.deps.authorize(actor, auth.ActionChangeTicket, t); err != nil {
				return err
			}
			result, event := s.workflow.Check(t.Status, targetStatus, TransitionContext{
				TenantID: t.TenantID,
				TicketID: t.ID,
				Actor:    actor,
				Reason:   comment,
			})
			event.Timestamp = s.deps.Now()
			validation = &event
			if !result.Valid {
				return result.Err(t.Status, targetStatus)
			}

			now := s.deps.Now()
			previous = t.Status
			t.Status = targetStatus
			t.ModifiedByID = actorID(actor)
			t.ModifiedAt = now
			switch {
			case targetStatus == domain.TicketStatusResolved:
				t.ResolvedAt = &now
			case targetStatus == domain.TicketStatusClosed && t.ResolvedAt == nil:
				t.ResolvedAt = &now
			case targetStatus != domain.TicketStatusClosed:
				t.ResolvedAt = nil
			}

			if err := tx.Tickets().UpdateFields(ctx, t,
				domain.FieldStatus, domain.FieldResolvedAt, domain.FieldModifiedByID, domain.FieldModifiedAt); err != nil {
				return err
			}
			entry := domain.WorkflowEntry{
				Action:  domain.WorkflowStatusChanged,
				ActorID: actorID(actor),
				At:      now,
				Payload: map[string]any{"from": string(previous), "to": string(targetStatus), "comment": comment},
			}
			if err := tx.Tickets().AppendWorkflow(ctx, t.ID, entry); err != nil {
				return err
			}
			t.Workflow = append(t.Workflow, entry)
			ticket = t
			return nil
		})
	})
	// audit writes happen only after the ticket lock is released
	if validation != nil {
		s.workflow.Record(ctx, *validation)
	}
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeInternal {
			s.deps.Logger.Error("status transition failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
		}
		s.deps.record(ctx, domain.AuditEvent{
			TenantID:  actorTenant(actor),
			TicketID:  ticketID,
			ActorID:   actorID(actor),
			EventType: domain.AuditStatusChanged,
			Reason:    comment,
			After:     map[string]any{"status": string(targetStatus)},
			ErrorCode: apperrors.CodeOf(err),
		})
		return nil, apperrors.MapError(err)
	}

	s.deps.record(ctx, domain.AuditEvent{
		TenantID:  ticket.TenantID,
		TicketID:  ticket.ID,
		ActorID:   actorID(actor),
		EventType: domain.AuditStatusChanged,
		Reason:    comment,
		Before:    map[string]any{"status": string(previous)},
		After:     map[string]any{"status": string(ticket.Status)},
		Success:   true,
	})
	s.deps.publish(ctx, events.New(events.EventTicketStatusChanged, ticket.ID, actor, ticket.ModifiedAt,
		events.TicketStatusChangedPayload{OldStatus: previous, NewStatus: ticket.Status, Comment: comment}))
	return ticket, nil
}

func actorTenant(actor *domain.Actor) int64 {
	if actor == nil {
		return 0
	}
	return actor.TenantID
}
