package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/lock"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// Auto-assignment rules, in cascade order.
const (
	RuleSpecialist = "specialist"
	RuleLeastBusy  = "least_busy"
	RuleRoundRobin = "round_robin"
	RuleCreator    = "creator"
)

const bulkAssignLockPrefix = "ticket_bulk_assign"

// AssignmentService reassigns tickets to exactly one person or group.
type AssignmentService struct {
	deps               Dependencies
	specialistLookback time.Duration
}

// AssignmentConfig tunes the auto-assignment cascade.
type AssignmentConfig struct {
	// SpecialistLookback bounds how far back category history counts.
	SpecialistLookback time.Duration
}

// AssignOptions describe why an assignment happens.
type AssignOptions struct {
	Type   domain.AssignmentType
	Reason domain.AssignmentReason
	// ResetEscalation drops the level back to 0 with the reassignment.
	ResetEscalation bool
}

// AssignmentResult reports an assignment outcome. Success is false, with a
// nil error, when auto-assignment finds nobody.
type AssignmentResult struct {
	Success        bool                    `json:"success"`
	TicketID       int64                   `json:"ticket_id"`
	AssigneeKind   domain.AssigneeKind     `json:"assignee_kind"`
	AssigneeID     int64                   `json:"assignee_id,omitempty"`
	AssigneeName   string                  `json:"assignee_name,omitempty"`
	Previous       domain.Assignee         `json:"previous"`
	AssignmentType domain.AssignmentType   `json:"assignment_type"`
	Reason         domain.AssignmentReason `json:"reason"`
	Rule           string                  `json:"rule,omitempty"`
	Message        string                  `json:"message,omitempty"`

	email string
}

type assignTarget struct {
	kind domain.AssigneeKind
	id   int64
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps Dependencies, cfg AssignmentConfig) *AssignmentService {
	if cfg.SpecialistLookback <= 0 {
		cfg.SpecialistLookback = 90 * 24 * time.Hour
	}
	return &AssignmentService{deps: deps.withDefaults(), specialistLookback: cfg.SpecialistLookback}
}

// AssignToPerson assigns the ticket to a person, clearing any group.
func (s *AssignmentService) AssignToPerson(ctx context.Context, actor *domain.Actor, ticketID, personID int64, opts AssignOptions) (*AssignmentResult, error) {
	if opts.Type == "" {
		opts.Type = domain.AssignmentIndividual
	}
	return s.assign(ctx, actor, ticketID, assignTarget{kind: domain.AssigneePerson, id: personID}, opts)
}

// AssignToGroup assigns the ticket to a group, clearing any person.
func (s *AssignmentService) AssignToGroup(ctx context.Context, actor *domain.Actor, ticketID, groupID int64, opts AssignOptions) (*AssignmentResult, error) {
	if opts.Type == "" {
		opts.Type = domain.AssignmentGroup
	}
	return s.assign(ctx, actor, ticketID, assignTarget{kind: domain.AssigneeGroup, id: groupID}, opts)
}

func (s *AssignmentService) assign(ctx context.Context, actor *domain.Actor, ticketID int64, target assignTarget, opts AssignOptions) (*AssignmentResult, error) {
	if opts.Reason == "" {
		opts.Reason = domain.ReasonUserAction
	}
	var (
		result *AssignmentResult
		ticket *domain.Ticket
	)
	err := s.deps.withLock(ctx, lock.TicketKey(ticketID), func(ctx context.Context) error {
		return s.deps.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			t, err := loadTicket(ctx, tx, actor, ticketID)
			if err != nil {
				return err
			}
			if err := s.checkAssignable(actor, t); err != nil {
				return err
			}
			result, err = s.applyAssignment(ctx, tx, actor, t, target, opts)
			ticket = t
			return err
		})
	})
	if err != nil {
		s.recordFailure(ctx, actor, ticketID, opts, err)
		return nil, apperrors.MapError(err)
	}
	s.recordSuccess(ctx, actor, ticket, result)
	return result, nil
}

func (s *AssignmentService) checkAssignable(actor *domain.Actor, t *domain.Ticket) error {
	if err := s.deps.authorize(actor, auth.ActionAssignTicket, t); err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return apperrors.NewTerminalState(string(t.Status))
	}
	return nil
}

// applyAssignment mutates t inside the caller's transaction; the ticket row
// must already be locked.
func (s *AssignmentService) applyAssignment(ctx context.Context, tx repository.Store, actor *domain.Actor, t *domain.Ticket, target assignTarget, opts AssignOptions) (*AssignmentResult, error) {
	current, email, err := s.resolveTarget(ctx, tx, t.TenantID, target)
	if err != nil {
		return nil, err
	}
	previous := describeAssignee(ctx, tx, t.CurrentAssignee())

	now := s.deps.Now()
	switch target.kind {
	case domain.AssigneePerson:
		t.AssignPerson(target.id)
	case domain.AssigneeGroup:
		t.AssignGroup(target.id)
	}
	t.ModifiedByID = actorID(actor)
	t.ModifiedAt = now
	fields := []domain.TicketField{
		domain.FieldAssigneePersonID,
		domain.FieldAssigneeGroupID,
		domain.FieldModifiedByID,
		domain.FieldModifiedAt,
	}
	if opts.ResetEscalation && (t.Level != 0 || t.IsEscalated) {
		t.Level = 0
		t.IsEscalated = false
		fields = append(fields, domain.FieldLevel, domain.FieldIsEscalated)
	}
	if err := tx.Tickets().UpdateFields(ctx, t, fields...); err != nil {
		return nil, err
	}

	entry := domain.WorkflowEntry{
		Action:  domain.WorkflowAssigned,
		ActorID: actorID(actor),
		At:      now,
		Payload: map[string]any{
			"previous":        assigneeMap(previous),
			"assignee":        assigneeMap(current),
			"assignment_type": string(opts.Type),
			"reason":          string(opts.Reason),
		},
	}
	if err := tx.Tickets().AppendWorkflow(ctx, t.ID, entry); err != nil {
		return nil, err
	}
	t.Workflow = append(t.Workflow, entry)

	return &AssignmentResult{
		Success:        true,
		TicketID:       t.ID,
		AssigneeKind:   current.Kind,
		AssigneeID:     current.ID,
		AssigneeName:   current.Name,
		Previous:       previous,
		AssignmentType: opts.Type,
		Reason:         opts.Reason,
		email:          email,
	}, nil
}

// resolveTarget reads the person or group under a row lock.
func (s *AssignmentService) resolveTarget(ctx context.Context, tx repository.Store, tenantID int64, target assignTarget) (domain.Assignee, string, error) {
	switch target.kind {
	case domain.AssigneePerson:
		p, err := tx.People().GetForUpdate(ctx, target.id)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && p.TenantID != tenantID) {
			return domain.Assignee{}, "", apperrors.NewPersonNotFound(target.id)
		}
		if err != nil {
			return domain.Assignee{}, "", err
		}
		if !p.Active {
			return domain.Assignee{}, "", apperrors.NewValidationError("person is inactive", map[string]any{"person_id": p.ID})
		}
		return domain.Assignee{Kind: domain.AssigneePerson, ID: p.ID, Name: p.Name}, p.Email, nil
	case domain.AssigneeGroup:
		g, err := tx.Groups().GetForUpdate(ctx, target.id)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && g.TenantID != tenantID) {
			return domain.Assignee{}, "", apperrors.NewGroupNotFound(target.id)
		}
		if err != nil {
			return domain.Assignee{}, "", err
		}
		if !g.Active {
			return domain.Assignee{}, "", apperrors.NewValidationError("group is inactive", map[string]any{"group_id": g.ID})
		}
		return domain.Assignee{Kind: domain.AssigneeGroup, ID: g.ID, Name: g.Name}, g.Email, nil
	}
	return domain.Assignee{}, "", apperrors.NewValidationError("unknown assignee kind", nil)
}

// AutoAssign picks an assignee through the rule cascade and assigns the
// ticket to them. Finding nobody is reported through the result, not an error.
func (s *AssignmentService) AutoAssign(ctx context.Context, actor *domain.Actor, ticketID int64, opts AssignOptions) (*AssignmentResult, error) {
	opts.Type = domain.AssignmentAuto
	var (
		result *AssignmentResult
		ticket *domain.Ticket
	)
	err := s.deps.withLock(ctx, lock.TicketKey(ticketID), func(ctx context.Context) error {
		return s.deps.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			t, err := loadTicket(ctx, tx, actor, ticketID)
			if err != nil {
				return err
			}
			if err := s.checkAssignable(actor, t); err != nil {
				return err
			}
			ticket = t

			personID, rule, err := s.pickAssignee(ctx, tx, t)
			if err != nil {
				return err
			}
			if rule == "" {
				result = &AssignmentResult{
					TicketID:       t.ID,
					AssigneeKind:   domain.AssigneeNone,
					Previous:       describeAssignee(ctx, tx, t.CurrentAssignee()),
					AssignmentType: opts.Type,
					Reason:         domain.ReasonAutoAssignment,
					Message:        "no eligible assignee",
				}
				return nil
			}

			ruleOpts := opts
			if ruleOpts.Reason == "" {
				ruleOpts.Reason = reasonForRule(rule)
			}
			result, err = s.applyAssignment(ctx, tx, actor, t, assignTarget{kind: domain.AssigneePerson, id: personID}, ruleOpts)
			if err != nil {
				return err
			}
			result.Rule = rule
			return nil
		})
	})
	if err != nil {
		s.recordFailure(ctx, actor, ticketID, opts, err)
		return nil, apperrors.MapError(err)
	}
	if !result.Success {
		s.deps.Logger.Info("auto assignment found no candidate", zap.Int64("ticket_id", ticketID))
		s.deps.Metrics.RecordAssignment(string(opts.Type), "no_candidate")
		s.deps.record(ctx, domain.AuditEvent{
			TenantID:       ticket.TenantID,
			TicketID:       ticket.ID,
			ActorID:        actorID(actor),
			EventType:      domain.AuditTicketAssigned,
			AssignmentType: opts.Type,
			Reason:         string(domain.ReasonAutoAssignment),
			Before:         assigneeMap(result.Previous),
			After:          map[string]any{"message": result.Message},
		})
		return result, nil
	}
	s.recordSuccess(ctx, actor, ticket, result)
	return result, nil
}

func reasonForRule(rule string) domain.AssignmentReason {
	switch rule {
	case RuleSpecialist:
		return domain.ReasonBusinessRule
	case RuleLeastBusy, RuleRoundRobin:
		return domain.ReasonLoadBalancing
	default:
		return domain.ReasonAutoAssignment
	}
}

// pickAssignee runs the cascade: specialist for HIGH tickets, then least busy,
// then round robin across the tied least-busy set, then the creator. An empty
// rule means nobody qualified.
func (s *AssignmentService) pickAssignee(ctx context.Context, tx repository.Store, t *domain.Ticket) (int64, string, error) {
	scope := repository.WorkloadScope{TenantID: t.TenantID, BusinessUnitID: t.BusinessUnitID, ClientID: t.ClientID}
	people, err := tx.People().ListEligible(ctx, scope)
	if err != nil {
		return 0, "", err
	}

	if len(people) > 0 {
		sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })
		ids := make([]int64, len(people))
		for i, p := range people {
			ids[i] = p.ID
		}

		if t.Priority == domain.TicketPriorityHigh {
			since := s.deps.Now().Add(-s.specialistLookback)
			history, err := tx.Tickets().CategoryHistory(ctx, t.TenantID, t.CategoryID, ids, since)
			if err != nil {
				return 0, "", err
			}
			var best int64
			bestCount := 0
			for _, id := range ids {
				if history[id] > bestCount {
					best, bestCount = id, history[id]
				}
			}
			if bestCount > 0 {
				return best, RuleSpecialist, nil
			}
		}

		workload, err := tx.Tickets().CountOpenByAssignee(ctx, scope, ids)
		if err != nil {
			return 0, "", err
		}
		// the ticket being assigned does not count against its current owner
		if owner := t.AssigneePersonID; owner != nil && workload[*owner] > 0 && t.Status != domain.TicketStatusResolved {
			workload[*owner]--
		}
		least := -1
		var tied []int64
		for _, id := range ids {
			n := workload[id]
			switch {
			case least < 0 || n < least:
				least = n
				tied = []int64{id}
			case n == least:
				tied = append(tied, id)
			}
		}
		if len(tied) == 1 {
			return tied[0], RuleLeastBusy, nil
		}
		return tied[roundRobinIndex(t.ID, len(tied))], RuleRoundRobin, nil
	}

	if t.CreatedByID != 0 {
		creator, err := tx.People().GetByID(ctx, t.CreatedByID)
		switch {
		case err == nil && creator.Active && creator.TenantID == t.TenantID:
			return creator.ID, RuleCreator, nil
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return 0, "", err
		}
	}
	return 0, "", nil
}

// roundRobinIndex is stable for a given ticket and eligible set size.
func roundRobinIndex(ticketID int64, n int) int {
	if n <= 0 {
		return 0
	}
	idx := ticketID % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return int(idx)
}

// BulkAssignToPerson assigns several tickets to one person. A lock over the
// sorted id set keeps overlapping bulk requests apart; each ticket is still
// mutated under its own lock and transaction, in id order.
func (s *AssignmentService) BulkAssignToPerson(ctx context.Context, actor *domain.Actor, ticketIDs []int64, personID int64, opts AssignOptions) ([]AssignmentResult, error) {
	ids := uniqueSorted(ticketIDs)
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("ticket_ids is required", nil)
	}
	if opts.Type == "" {
		opts.Type = domain.AssignmentReassignment
	}

	results := make([]AssignmentResult, 0, len(ids))
	err := s.deps.withLock(ctx, lock.BulkKey(bulkAssignLockPrefix, ids), func(ctx context.Context) error {
		for _, id := range ids {
			res, err := s.AssignToPerson(ctx, actor, id, personID, opts)
			if err != nil {
				results = append(results, AssignmentResult{
					TicketID:       id,
					AssigneeKind:   domain.AssigneeNone,
					AssignmentType: opts.Type,
					Reason:         opts.Reason,
					Message:        apperrors.CodeOf(err),
				})
				continue
			}
			results = append(results, *res)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return results, nil
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *AssignmentService) recordSuccess(ctx context.Context, actor *domain.Actor, ticket *domain.Ticket, result *AssignmentResult) {
	current := domain.Assignee{Kind: result.AssigneeKind, ID: result.AssigneeID, Name: result.AssigneeName}
	s.deps.Metrics.RecordAssignment(string(result.AssignmentType), "success")
	s.deps.Logger.Info("ticket assigned",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("assignee_kind", string(result.AssigneeKind)),
		zap.Int64("assignee_id", result.AssigneeID),
		zap.String("assignment_type", string(result.AssignmentType)),
		zap.String("rule", result.Rule))
	s.deps.record(ctx, domain.AuditEvent{
		TenantID:       ticket.TenantID,
		TicketID:       ticket.ID,
		ActorID:        actorID(actor),
		EventType:      domain.AuditTicketAssigned,
		AssignmentType: result.AssignmentType,
		Reason:         string(result.Reason),
		Before:         assigneeMap(result.Previous),
		After:          assigneeMap(current),
		Success:        true,
	})
	s.deps.publish(ctx, events.New(events.EventTicketAssigned, ticket.ID, actor, ticket.ModifiedAt, events.TicketAssignedPayload{
		Previous:       result.Previous,
		Current:        current,
		AssignmentType: result.AssignmentType,
		Email:          result.email,
	}))
}

func (s *AssignmentService) recordFailure(ctx context.Context, actor *domain.Actor, ticketID int64, opts AssignOptions, err error) {
	code := apperrors.CodeOf(err)
	s.deps.Metrics.RecordAssignment(string(opts.Type), "failure")
	if code == apperrors.CodeInternal {
		s.deps.Logger.Error("assignment failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
	} else {
		s.deps.Logger.Info("assignment rejected", zap.Int64("ticket_id", ticketID), zap.String("code", code))
	}
	s.deps.record(ctx, domain.AuditEvent{
		TenantID:       actorTenant(actor),
		TicketID:       ticketID,
		ActorID:        actorID(actor),
		EventType:      domain.AuditTicketAssigned,
		AssignmentType: opts.Type,
		Reason:         string(opts.Reason),
		ErrorCode:      code,
	})
}
