package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/lock"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// Skip reasons reported by escalation outcomes.
const (
	SkipTerminal     = "terminal"
	SkipLevelChanged = "level_changed"
	SkipNoEntry      = "no_matrix_entry"
	SkipNotDue       = "not_due"
)

const defaultEscalationBody = `Ticket {{.Number}} ({{.Title}}) escalated from level {{.FromLevel}} to {{.ToLevel}}.
Priority: {{.Priority}}. Open since {{.CreatedAt.Format "2006-01-02 15:04 MST"}}.`

// EscalationOptions tune the escalation engine.
type EscalationOptions struct {
	// FindingDedupWindow suppresses repeat findings of one type at one site.
	FindingDedupWindow time.Duration
	Notifier           Notifier
	// NotifyTimeout bounds each escalation notification, which is delivered
	// off the sweep path.
	NotifyTimeout time.Duration
}

// EscalationService escalates overdue tickets and opens tickets for findings.
type EscalationService struct {
	deps          Dependencies
	dedupWindow   time.Duration
	notifier      Notifier
	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// SweepFailure is one ticket the sweep could not process.
type SweepFailure struct {
	TicketID int64  `json:"ticket_id"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Scanned   int            `json:"scanned"`
	Eligible  int            `json:"eligible"`
	Escalated int            `json:"escalated"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Failures  []SweepFailure `json:"failures,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// EscalationOutcome describes what happened to one ticket.
type EscalationOutcome struct {
	TicketID  int64           `json:"ticket_id"`
	Escalated bool            `json:"escalated"`
	FromLevel int             `json:"from_level"`
	ToLevel   int             `json:"to_level"`
	Assignee  domain.Assignee `json:"assignee"`
	Reason    string          `json:"reason,omitempty"`
}

// EscalationReport aggregates escalation activity since a point in time.
type EscalationReport struct {
	Since       time.Time                      `json:"since"`
	GeneratedAt time.Time                      `json:"generated_at"`
	Totals      domain.TenantEscalationStats   `json:"totals"`
	Tenants     []domain.TenantEscalationStats `json:"tenants"`
}

// NewEscalationService creates the engine.
func NewEscalationService(deps Dependencies, opts EscalationOptions) *EscalationService {
	if opts.FindingDedupWindow <= 0 {
		opts.FindingDedupWindow = 4 * time.Hour
	}
	deps = deps.withDefaults()
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(context.Context, Notification) error { return nil })
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	return &EscalationService{
		deps:          deps,
		dedupWindow:   opts.FindingDedupWindow,
		notifier:      opts.Notifier,
		notifyTimeout: opts.NotifyTimeout,
	}
}

// Wait blocks until in-flight notifications finish or ctx ends.
func (s *EscalationService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep escalates every open ticket whose next matrix threshold has passed.
// Candidates come from one bulk read; each ticket is then re-checked under its
// lock, so a ticket resolved or escalated in between is skipped.
func (s *EscalationService) Sweep(ctx context.Context) (SweepResult, error) {
	return s.sweep(ctx, repository.AllTenants)
}

// SweepFor runs a sweep on behalf of actor: superusers sweep every tenant,
// anyone else only their own.
func (s *EscalationService) SweepFor(ctx context.Context, actor *domain.Actor) (SweepResult, error) {
	tenantID, err := tenantScope(actor)
	if err != nil {
		return SweepResult{}, err
	}
	return s.sweep(ctx, tenantID)
}

func (s *EscalationService) sweep(ctx context.Context, tenantID int64) (SweepResult, error) {
	start := time.Now()
	var result SweepResult
	defer func() {
		result.Duration = time.Since(start)
		s.deps.Metrics.ObserveSweep(result.Duration)
	}()

	candidates, err := s.deps.Store.Escalations().ListCandidates(ctx, tenantID)
	if err != nil {
		s.deps.Logger.Error("load escalation candidates", zap.Error(err))
		return result, apperrors.MapError(err)
	}

	now := s.deps.Now()
	for _, c := range candidates {
		result.Scanned++
		if c.Next == nil || !c.Next.Expiry(c.Ticket.CreatedAt).Before(now) {
			continue
		}
		result.Eligible++
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome, err := s.escalate(ctx, domain.SystemActor(c.Ticket.TenantID), c.Ticket.ID, c.Ticket.Level, false)
		switch {
		case err != nil:
			result.Failed++
			result.Failures = append(result.Failures, SweepFailure{
				TicketID: c.Ticket.ID,
				Code:     apperrors.CodeOf(err),
				Error:    err.Error(),
			})
		case outcome.Escalated:
			result.Escalated++
		default:
			result.Skipped++
		}
	}

	s.deps.Logger.Info("escalation sweep finished",
		zap.Int64("tenant_scope", tenantID),
		zap.Int("scanned", result.Scanned),
		zap.Int("eligible", result.Eligible),
		zap.Int("escalated", result.Escalated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}

// EscalateTicket moves one ticket to its next matrix level now, regardless of
// the threshold.
func (s *EscalationService) EscalateTicket(ctx context.Context, actor *domain.Actor, ticketID int64) (*EscalationOutcome, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	outcome, err := s.escalate(ctx, actor, ticketID, -1, true)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

type escalationChange struct {
	ticket    *domain.Ticket
	entry     *domain.MatrixEntry
	fromLevel int
	previous  domain.Assignee
	current   domain.Assignee
	recipient string
}

// escalate runs the locked escalation of one ticket. Sweep passes the level it
// observed as expected; a manual escalation passes -1 and skips the threshold.
func (s *EscalationService) escalate(ctx context.Context, actor *domain.Actor, ticketID int64, expected int, manual bool) (EscalationOutcome, error) {
	outcome := EscalationOutcome{TicketID: ticketID}
	var change *escalationChange

	err := s.deps.withLock(ctx, lock.TicketKey(ticketID), func(ctx context.Context) error {
		return s.deps.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			t, err := loadTicket(ctx, tx, actor, ticketID)
			if err != nil {
				return err
			}
			outcome.FromLevel, outcome.ToLevel = t.Level, t.Level
			outcome.Assignee = t.CurrentAssignee()
			if manual {
				if err := s.deps.authorize(actor, auth.ActionEscalateTicket, t); err != nil {
					return err
				}
			}
			if t.Status.IsTerminal() {
				if manual {
					return apperrors.NewTerminalState(string(t.Status))
				}
				outcome.Reason = SkipTerminal
				return nil
			}
			if !manual && t.Level != expected {
				outcome.Reason = SkipLevelChanged
				return nil
			}

			entry, err := tx.Escalations().GetEntry(ctx, t.TenantID, t.CategoryID, t.Level+1)
			if errors.Is(err, repository.ErrNotFound) {
				if manual {
					return apperrors.NewConflict("no further escalation level", map[string]any{"level": t.Level})
				}
				outcome.Reason = SkipNoEntry
				return nil
			}
			if err != nil {
				return err
			}
			now := s.deps.Now()
			if !manual && !entry.Expiry(t.CreatedAt).Before(now) {
				outcome.Reason = SkipNotDue
				return nil
			}

			from := t.Level
			level, err := tx.Tickets().IncrementLevel(ctx, t.ID, from)
			if errors.Is(err, repository.ErrConflict) {
				outcome.Reason = SkipLevelChanged
				return nil
			}
			if err != nil {
				return err
			}

			previous := describeAssignee(ctx, tx, t.CurrentAssignee())
			t.Level = level
			t.IsEscalated = true
			t.EscalatedAt = &now
			t.ModifiedByID = actorID(actor)
			t.ModifiedAt = now
			recipient := s.reassign(ctx, tx, t, entry)
			current := describeAssignee(ctx, tx, t.CurrentAssignee())
			if entry.NotifyEmail != "" {
				recipient = entry.NotifyEmail
			}

			if err := tx.Tickets().UpdateFields(ctx, t,
				domain.FieldIsEscalated,
				domain.FieldEscalatedAt,
				domain.FieldAssigneePersonID,
				domain.FieldAssigneeGroupID,
				domain.FieldModifiedByID,
				domain.FieldModifiedAt); err != nil {
				return err
			}
			wf := domain.WorkflowEntry{
				Action:  domain.WorkflowEscalated,
				ActorID: actorID(actor),
				At:      now,
				Payload: map[string]any{
					"from_level": from,
					"to_level":   level,
					"previous":   assigneeMap(previous),
					"assignee":   assigneeMap(current),
					"manual":     manual,
				},
			}
			if err := tx.Tickets().AppendWorkflow(ctx, t.ID, wf); err != nil {
				return err
			}
			t.Workflow = append(t.Workflow, wf)

			outcome.Escalated = true
			outcome.ToLevel = level
			outcome.Assignee = current
			change = &escalationChange{
				ticket:    t,
				entry:     entry,
				fromLevel: from,
				previous:  previous,
				current:   current,
				recipient: recipient,
			}
			return nil
		})
	})
	if err != nil {
		s.deps.Metrics.RecordEscalation("failure")
		code := apperrors.CodeOf(err)
		if code == apperrors.CodeInternal || code == apperrors.CodeLockContended {
			s.deps.Logger.Error("escalation failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
		}
		s.deps.record(ctx, domain.AuditEvent{
			TenantID:       actorTenant(actor),
			TicketID:       ticketID,
			ActorID:        actorID(actor),
			EventType:      domain.AuditTicketEscalated,
			AssignmentType: domain.AssignmentEscalation,
			Reason:         string(domain.ReasonEscalation),
			ErrorCode:      code,
		})
		return outcome, apperrors.MapError(err)
	}
	if change == nil {
		s.deps.Metrics.RecordEscalation("skipped")
		s.deps.Logger.Debug("escalation skipped", zap.Int64("ticket_id", ticketID), zap.String("reason", outcome.Reason))
		return outcome, nil
	}

	s.afterEscalation(ctx, actor, change)
	return outcome, nil
}

// reassign points the ticket at the matrix target when it is usable and
// returns that target's email.
func (s *EscalationService) reassign(ctx context.Context, tx repository.Store, t *domain.Ticket, entry *domain.MatrixEntry) string {
	switch {
	case entry.AssignPersonID != nil:
		p, err := tx.People().GetForUpdate(ctx, *entry.AssignPersonID)
		if err == nil && p.Active && p.TenantID == t.TenantID {
			t.AssignPerson(p.ID)
			return p.Email
		}
		s.deps.Logger.Warn("escalation target person unusable",
			zap.Int64("ticket_id", t.ID), zap.Int64("person_id", *entry.AssignPersonID), zap.Error(err))
	case entry.AssignGroupID != nil:
		g, err := tx.Groups().GetForUpdate(ctx, *entry.AssignGroupID)
		if err == nil && g.Active && g.TenantID == t.TenantID {
			t.AssignGroup(g.ID)
			return g.Email
		}
		s.deps.Logger.Warn("escalation target group unusable",
			zap.Int64("ticket_id", t.ID), zap.Int64("group_id", *entry.AssignGroupID), zap.Error(err))
	}
	return ""
}

// afterEscalation runs once the escalation is committed: one audit entry, the
// event, and the notification. Nothing here can undo the escalation.
func (s *EscalationService) afterEscalation(ctx context.Context, actor *domain.Actor, c *escalationChange) {
	t := c.ticket
	s.deps.Metrics.RecordEscalation("escalated")
	s.deps.Logger.Info("ticket escalated",
		zap.Int64("ticket_id", t.ID),
		zap.Int("from_level", c.fromLevel),
		zap.Int("to_level", t.Level),
		zap.String("assignee_kind", string(c.current.Kind)),
		zap.Int64("assignee_id", c.current.ID))
	s.deps.record(ctx, domain.AuditEvent{
		TenantID:       t.TenantID,
		TicketID:       t.ID,
		ActorID:        actorID(actor),
		EventType:      domain.AuditTicketEscalated,
		AssignmentType: domain.AssignmentEscalation,
		Reason:         string(domain.ReasonEscalation),
		Before:         map[string]any{"level": c.fromLevel, "assignee": assigneeMap(c.previous)},
		After:          map[string]any{"level": t.Level, "assignee": assigneeMap(c.current)},
		Success:        true,
	})

	subject := fmt.Sprintf("Ticket %s escalated to level %d", t.Number, t.Level)
	body, err := renderEscalationBody(c.entry.BodyTemplate, t, c.fromLevel)
	if err != nil {
		s.deps.Logger.Warn("escalation template failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
		body, _ = renderEscalationBody("", t, c.fromLevel)
	}
	s.deps.publish(ctx, events.New(events.EventTicketEscalated, t.ID, actor, t.ModifiedAt, events.TicketEscalatedPayload{
		Number:    t.Number,
		FromLevel: c.fromLevel,
		ToLevel:   t.Level,
		Assignee:  c.current,
		Recipient: c.recipient,
		Subject:   subject,
		Body:      body,
	}))

	s.notify(ctx, Notification{
		Recipient: c.recipient,
		Subject:   subject,
		Body:      body,
		TicketID:  t.ID,
		EventType: events.EventTicketEscalated,
	})
}

// notify delivers msg in the background under its own deadline so a slow
// channel never holds up the rest of a sweep.
func (s *EscalationService) notify(ctx context.Context, msg Notification) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.deps.Logger.Warn("escalation notification failed", zap.Int64("ticket_id", msg.TicketID), zap.Error(err))
		}
	}()
}

func renderEscalationBody(text string, t *domain.Ticket, fromLevel int) (string, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultEscalationBody
	}
	tmpl, err := template.New("escalation").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]any{
		"Number":    t.Number,
		"Title":     t.Title,
		"Priority":  string(t.Priority),
		"Category":  t.CategoryName,
		"FromLevel": fromLevel,
		"ToLevel":   t.Level,
		"CreatedAt": t.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Report aggregates escalation activity per tenant since the given time.
// Only superusers see tenants other than their own.
func (s *EscalationService) Report(ctx context.Context, actor *domain.Actor, since time.Time) (*EscalationReport, error) {
	tenantID, err := tenantScope(actor)
	if err != nil {
		return nil, err
	}
	stats, err := s.deps.Store.Escalations().Stats(ctx, tenantID, since)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	report := &EscalationReport{Since: since, GeneratedAt: s.deps.Now(), Tenants: stats}
	for _, row := range stats {
		report.Totals.FindingsScanned += row.FindingsScanned
		report.Totals.Escalated += row.Escalated
		report.Totals.AutoCreated += row.AutoCreated
		report.Totals.Resolved += row.Resolved
	}
	return report, nil
}

// tenantScope is the tenant filter for actor's cross-ticket reads.
func tenantScope(actor *domain.Actor) (int64, error) {
	switch {
	case actor == nil:
		return 0, apperrors.NewUnauthorized("actor required")
	case actor.IsSuperuser:
		return repository.AllTenants, nil
	case actor.TenantID == repository.AllTenants:
		return 0, apperrors.NewForbidden("actor has no tenant")
	}
	return actor.TenantID, nil
}

// FindingKey is the lock name serializing findings of one type at one site.
func FindingKey(tenantID, siteID int64, findingType string) string {
	return fmt.Sprintf("finding:%d:%d:%s", tenantID, siteID, findingType)
}

// HandleFinding opens a HIGH priority ticket for a HIGH or CRITICAL finding,
// at most once per site and finding type within the dedup window. Suppressed
// and deduplicated findings return a nil ticket and a nil error; every finding
// is stored with its outcome.
func (s *EscalationService) HandleFinding(ctx context.Context, f *domain.Finding) (*domain.Ticket, error) {
	if err := validateFinding(f); err != nil {
		return nil, err
	}
	now := s.deps.Now()
	if f.ObservedAt.IsZero() {
		f.ObservedAt = now
	}

	if !f.Severity.CreatesTicket() {
		f.Outcome = domain.FindingSuppressed
		if err := s.deps.Store.Findings().Create(ctx, f); err != nil {
			s.deps.Logger.Error("store suppressed finding", zap.Error(err))
			return nil, apperrors.MapError(err)
		}
		s.deps.Metrics.RecordFinding(string(f.Outcome))
		s.deps.Logger.Debug("finding suppressed",
			zap.Int64("site_id", f.SiteID), zap.String("finding_type", f.FindingType), zap.String("severity", string(f.Severity)))
		return nil, nil
	}

	var ticket *domain.Ticket
	err := s.deps.withLock(ctx, FindingKey(f.TenantID, f.SiteID, f.FindingType), func(ctx context.Context) error {
		return s.deps.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			existing, err := tx.Tickets().FindAutoCreated(ctx, f.TenantID, f.SiteID, f.FindingType, now.Add(-s.dedupWindow))
			switch {
			case err == nil:
				f.Outcome = domain.FindingDeduplicated
				f.TicketID = &existing.ID
				return tx.Findings().Create(ctx, f)
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}

			t := ticketForFinding(f, now)
			if err := tx.Tickets().Create(ctx, t); err != nil {
				return err
			}
			f.Outcome = domain.FindingTicketCreated
			f.TicketID = &t.ID
			if err := tx.Findings().Create(ctx, f); err != nil {
				return err
			}
			ticket = t
			return nil
		})
	})
	if err != nil {
		s.deps.Logger.Error("finding intake failed",
			zap.Int64("site_id", f.SiteID), zap.String("finding_type", f.FindingType), zap.Error(err))
		return nil, apperrors.MapError(err)
	}
	s.deps.Metrics.RecordFinding(string(f.Outcome))
	if ticket == nil {
		s.deps.Logger.Info("finding deduplicated",
			zap.Int64("site_id", f.SiteID), zap.String("finding_type", f.FindingType), zap.Int64("ticket_id", *f.TicketID))
		return nil, nil
	}

	system := domain.SystemActor(f.TenantID)
	s.deps.Logger.Info("ticket auto-created",
		zap.Int64("ticket_id", ticket.ID), zap.Int64("site_id", f.SiteID), zap.String("finding_type", f.FindingType))
	s.deps.record(ctx, domain.AuditEvent{
		TenantID:  ticket.TenantID,
		TicketID:  ticket.ID,
		EventType: domain.AuditTicketAutoCreated,
		Reason:    f.FindingType,
		After: map[string]any{
			"number":     ticket.Number,
			"finding_id": f.ID,
			"severity":   string(f.Severity),
			"site_id":    f.SiteID,
		},
		Success: true,
	})
	s.deps.publish(ctx, events.New(events.EventTicketAutoCreated, ticket.ID, system, now, events.TicketAutoCreatedPayload{
		Number:      ticket.Number,
		FindingID:   f.ID,
		FindingType: f.FindingType,
		Severity:    f.Severity,
		SiteID:      f.SiteID,
	}))
	return ticket, nil
}

func validateFinding(f *domain.Finding) error {
	if f == nil {
		return apperrors.NewValidationError("finding is required", nil)
	}
	f.FindingType = strings.TrimSpace(f.FindingType)
	f.Severity = domain.Severity(strings.ToUpper(strings.TrimSpace(string(f.Severity))))
	details := map[string]any{}
	if f.TenantID <= 0 {
		details["tenant_id"] = "required"
	}
	if f.SiteID <= 0 {
		details["site_id"] = "required"
	}
	if f.CategoryID <= 0 {
		details["category_id"] = "required"
	}
	if f.FindingType == "" {
		details["finding_type"] = "required"
	}
	switch f.Severity {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		details["severity"] = "must be LOW, MEDIUM, HIGH or CRITICAL"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid finding", details)
	}
	return nil
}

func ticketForFinding(f *domain.Finding, now time.Time) *domain.Ticket {
	site := f.SiteID
	title := fmt.Sprintf("[%s] %s at site %d", f.Severity, f.FindingType, f.SiteID)
	return &domain.Ticket{
		TenantID:       f.TenantID,
		BusinessUnitID: f.BusinessUnitID,
		ClientID:       f.ClientID,
		Title:          title,
		Description:    f.Summary,
		Status:         domain.TicketStatusNew,
		Priority:       domain.TicketPriorityHigh,
		CategoryID:     f.CategoryID,
		Source:         domain.TicketSourceFinding,
		SiteID:         &site,
		FindingType:    f.FindingType,
		CreatedAt:      now,
		ModifiedAt:     now,
		DueAt:          now.Add(domain.TicketPriorityHigh.SLA()),
		Workflow: []domain.WorkflowEntry{{
			Action: domain.WorkflowCreated,
			At:     now,
			Payload: map[string]any{
				"source":       string(domain.TicketSourceFinding),
				"finding_type": f.FindingType,
				"severity":     string(f.Severity),
			},
		}},
	}
}
