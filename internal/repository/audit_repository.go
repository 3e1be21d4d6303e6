package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

type auditRepository struct {
	db dbtx
}

func (r *auditRepository) Create(ctx context.Context, e *domain.AuditEvent) error {
	const query = `
        INSERT INTO audit_events (id, tenant_id, ticket_id, actor_id, event_type, assignment_type, reason,
            before_value, after_value, success, error_code, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.db.Exec(ctx, query,
		e.ID,
		e.TenantID,
		e.TicketID,
		e.ActorID,
		e.EventType,
		e.AssignmentType,
		e.Reason,
		e.Before,
		e.After,
		e.Success,
		e.ErrorCode,
		e.Timestamp,
	)
	return err
}

func (r *auditRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.AuditEvent, error) {
	const query = `
        SELECT id, tenant_id, ticket_id, actor_id, event_type, assignment_type, reason,
               before_value, after_value, success, error_code, created_at
        FROM audit_events WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.TicketID,
			&e.ActorID,
			&e.EventType,
			&e.AssignmentType,
			&e.Reason,
			&e.Before,
			&e.After,
			&e.Success,
			&e.ErrorCode,
			&e.Timestamp,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
