package repository

import (
	"context"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

const matrixColumns = `id, tenant_id, category_id, level, frequency, frequency_value,
       assign_person_id, assign_group_id, notify_email, body_template`

type escalationRepository struct {
	db dbtx
}

func (r *escalationRepository) UpsertEntry(ctx context.Context, e *domain.MatrixEntry) error {
	const query = `
        INSERT INTO escalation_matrix (tenant_id, category_id, level, frequency, frequency_value,
            assign_person_id, assign_group_id, notify_email, body_template)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (tenant_id, category_id, level) DO UPDATE SET
            frequency=EXCLUDED.frequency, frequency_value=EXCLUDED.frequency_value,
            assign_person_id=EXCLUDED.assign_person_id, assign_group_id=EXCLUDED.assign_group_id,
            notify_email=EXCLUDED.notify_email, body_template=EXCLUDED.body_template
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		e.TenantID,
		e.CategoryID,
		e.Level,
		e.Frequency,
		e.FrequencyValue,
		e.AssignPersonID,
		e.AssignGroupID,
		e.NotifyEmail,
		e.BodyTemplate,
	).Scan(&e.ID)
}

func (r *escalationRepository) GetEntry(ctx context.Context, tenantID, categoryID int64, level int) (*domain.MatrixEntry, error) {
	const query = `SELECT ` + matrixColumns + ` FROM escalation_matrix
        WHERE tenant_id=$1 AND category_id=$2 AND level=$3`
	var e domain.MatrixEntry
	if err := r.db.QueryRow(ctx, query, tenantID, categoryID, level).Scan(
		&e.ID,
		&e.TenantID,
		&e.CategoryID,
		&e.Level,
		&e.Frequency,
		&e.FrequencyValue,
		&e.AssignPersonID,
		&e.AssignGroupID,
		&e.NotifyEmail,
		&e.BodyTemplate,
	); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *escalationRepository) ListEntries(ctx context.Context, tenantID int64) ([]domain.MatrixEntry, error) {
	const query = `SELECT ` + matrixColumns + ` FROM escalation_matrix
        WHERE tenant_id=$1 ORDER BY category_id, level`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.MatrixEntry
	for rows.Next() {
		var e domain.MatrixEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CategoryID, &e.Level, &e.Frequency, &e.FrequencyValue,
			&e.AssignPersonID, &e.AssignGroupID, &e.NotifyEmail, &e.BodyTemplate); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *escalationRepository) ListCandidates(ctx context.Context, tenantID int64) ([]domain.EscalationCandidate, error) {
	query := `SELECT ` + ticketColumns + `,
               m.id, m.level, m.frequency, m.frequency_value, m.assign_person_id, m.assign_group_id,
               m.notify_email, m.body_template
        ` + ticketFrom + `
        LEFT JOIN escalation_matrix m
               ON m.tenant_id = t.tenant_id AND m.category_id = t.category_id AND m.level = t.level + 1
        WHERE t.status NOT IN ('CLOSED','CANCELLED') AND ($1::bigint = 0 OR t.tenant_id = $1::bigint)
        ORDER BY t.tenant_id, t.id`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationCandidate
	for rows.Next() {
		var (
			c         domain.EscalationCandidate
			entryID   *int64
			level     *int
			frequency *string
			freqValue *int
			personID  *int64
			groupID   *int64
			notify    *string
			bodyTmpl  *string
		)
		targets := append(ticketTargets(&c.Ticket),
			&entryID, &level, &frequency, &freqValue, &personID, &groupID, &notify, &bodyTmpl)
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		if entryID != nil {
			c.Next = &domain.MatrixEntry{
				ID:             *entryID,
				TenantID:       c.Ticket.TenantID,
				CategoryID:     c.Ticket.CategoryID,
				Level:          deref(level),
				Frequency:      domain.Frequency(deref(frequency)),
				FrequencyValue: deref(freqValue),
				AssignPersonID: personID,
				AssignGroupID:  groupID,
				NotifyEmail:    deref(notify),
				BodyTemplate:   deref(bodyTmpl),
			}
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *escalationRepository) Stats(ctx context.Context, tenantID int64, since time.Time) ([]domain.TenantEscalationStats, error) {
	const query = `
        WITH f AS (
            SELECT tenant_id, COUNT(*) AS scanned FROM findings
            WHERE observed_at >= $1 AND ($2::bigint = 0 OR tenant_id = $2::bigint) GROUP BY tenant_id
        ), t AS (
            SELECT tenant_id,
                   COUNT(*) FILTER (WHERE escalated_at >= $1) AS escalated,
                   COUNT(*) FILTER (WHERE source = 'FINDING' AND created_at >= $1) AS auto_created,
                   COUNT(*) FILTER (WHERE resolved_at >= $1) AS resolved
            FROM tickets WHERE $2::bigint = 0 OR tenant_id = $2::bigint GROUP BY tenant_id
        )
        SELECT COALESCE(f.tenant_id, t.tenant_id), COALESCE(f.scanned, 0), COALESCE(t.escalated, 0),
               COALESCE(t.auto_created, 0), COALESCE(t.resolved, 0)
        FROM f FULL OUTER JOIN t ON t.tenant_id = f.tenant_id
        ORDER BY 1`
	rows, err := r.db.Query(ctx, query, since, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TenantEscalationStats
	for rows.Next() {
		var s domain.TenantEscalationStats
		if err := rows.Scan(&s.TenantID, &s.FindingsScanned, &s.Escalated, &s.AutoCreated, &s.Resolved); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
