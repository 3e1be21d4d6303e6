package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/audit"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// transitions is the complete status graph; CLOSED and CANCELLED have no exits.
var transitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusNew:        {domain.TicketStatusAssigned, domain.TicketStatusCancelled},
	domain.TicketStatusAssigned:   {domain.TicketStatusInProgress, domain.TicketStatusClosed},
	domain.TicketStatusInProgress: {domain.TicketStatusResolved, domain.TicketStatusAssigned},
	domain.TicketStatusResolved:   {domain.TicketStatusClosed, domain.TicketStatusInProgress},
	domain.TicketStatusClosed:     nil,
	domain.TicketStatusCancelled:  nil,
}

// AllowedTargets lists the statuses reachable from status in one step.
func AllowedTargets(status domain.TicketStatus) []domain.TicketStatus {
	return append([]domain.TicketStatus(nil), transitions[status]...)
}

// TransitionContext describes who asked for a transition and why.
type TransitionContext struct {
	TenantID int64
	TicketID int64
	Actor    *domain.Actor
	Reason   string
}

// TransitionResult is the verdict of a validation. Code is empty when Valid.
type TransitionResult struct {
	Valid        bool
	Code         string
	ErrorMessage string
}

// Err converts a rejected result into the matching domain error.
func (r TransitionResult) Err(current, target domain.TicketStatus) error {
	switch r.Code {
	case "":
		return nil
	case apperrors.CodeTerminalState:
		return apperrors.NewTerminalState(string(current))
	case apperrors.CodeInvalidTransition:
		return apperrors.NewInvalidTransition(string(current), string(target))
	default:
		return apperrors.NewValidationError(r.ErrorMessage, map[string]any{"target": string(target)})
	}
}

// evaluateTransition is the pure decision behind ValidateTransition.
func evaluateTransition(current, target domain.TicketStatus) TransitionResult {
	if strings.TrimSpace(string(target)) == "" {
		return TransitionResult{Code: apperrors.CodeValidation, ErrorMessage: "target status is required"}
	}
	allowed, known := transitions[current]
	if !known {
		return TransitionResult{Code: apperrors.CodeValidation, ErrorMessage: fmt.Sprintf("unknown current status %q", current)}
	}
	if current.IsTerminal() {
		return TransitionResult{
			Code:         apperrors.CodeTerminalState,
			ErrorMessage: fmt.Sprintf("ticket is %s; no further transitions are possible", current),
		}
	}
	if _, ok := transitions[target]; !ok {
		return TransitionResult{Code: apperrors.CodeValidation, ErrorMessage: fmt.Sprintf("unknown target status %q", target)}
	}
	for _, next := range allowed {
		if next == target {
			return TransitionResult{Valid: true}
		}
	}
	return TransitionResult{
		Code:         apperrors.CodeInvalidTransition,
		ErrorMessage: fmt.Sprintf("cannot move ticket from %s to %s", current, target),
	}
}

// StateMachine validates status transitions. It never mutates tickets; its
// only side effect is the audit trail of every attempt.
type StateMachine struct {
	audit   *audit.Recorder
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewStateMachine builds a state machine that records attempts through recorder.
func NewStateMachine(recorder *audit.Recorder, metrics *observability.Metrics, logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{audit: recorder, metrics: metrics, logger: logger.Named("workflow")}
}

// ValidateTransition reports whether current may move to target. Illegal moves
// are returned as results, not errors.
func (m *StateMachine) ValidateTransition(ctx context.Context, current, target domain.TicketStatus, tc TransitionContext) TransitionResult {
	result, event := m.Check(current, target, tc)
	m.audit.Record(ctx, event)
	return result
}

// Check decides the transition like ValidateTransition but hands back the
// audit event instead of writing it, for callers holding a ticket lock.
func (m *StateMachine) Check(current, target domain.TicketStatus, tc TransitionContext) (TransitionResult, domain.AuditEvent) {
	result := evaluateTransition(current, target)

	outcome := "valid"
	if !result.Valid {
		outcome = strings.ToLower(result.Code)
	}
	m.metrics.RecordTransition(outcome)
	m.logger.Info("status transition validated",
		zap.Int64("ticket_id", tc.TicketID),
		zap.Int64("actor_id", actorID(tc.Actor)),
		zap.String("from", string(current)),
		zap.String("to", string(target)),
		zap.Bool("valid", result.Valid),
		zap.String("code", result.Code),
		zap.String("reason", tc.Reason))

	return result, domain.AuditEvent{
		TenantID:  tc.TenantID,
		TicketID:  tc.TicketID,
		ActorID:   actorID(tc.Actor),
		EventType: domain.AuditTransitionValidated,
		Reason:    tc.Reason,
		Before:    map[string]any{"status": string(current)},
		After:     map[string]any{"status": string(target)},
		Success:   result.Valid,
		ErrorCode: result.Code,
	}
}

// Record writes an event produced by Check.
func (m *StateMachine) Record(ctx context.Context, event domain.AuditEvent) {
	m.audit.Record(ctx, event)
}
