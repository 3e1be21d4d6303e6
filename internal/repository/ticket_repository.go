package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

const ticketColumns = `t.id, t.tenant_id, t.business_unit_id, t.client_id, t.number, t.title, t.description,
       t.status, t.priority, t.level, t.is_escalated, t.category_id, COALESCE(c.name, ''),
       t.assignee_person_id, t.assignee_group_id, t.created_by_id, t.modified_by_id,
       t.source, t.site_id, t.finding_type, t.created_at, t.modified_at, t.resolved_at,
       t.due_at, t.escalated_at`

const ticketFrom = `FROM tickets t LEFT JOIN categories c ON c.id = t.category_id`

type ticketRepository struct {
	db dbtx
}

func ticketTargets(t *domain.Ticket) []any {
	return []any{
		&t.ID,
		&t.TenantID,
		&t.BusinessUnitID,
		&t.ClientID,
		&t.Number,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.Level,
		&t.IsEscalated,
		&t.CategoryID,
		&t.CategoryName,
		&t.AssigneePersonID,
		&t.AssigneeGroupID,
		&t.CreatedByID,
		&t.ModifiedByID,
		&t.Source,
		&t.SiteID,
		&t.FindingType,
		&t.CreatedAt,
		&t.ModifiedAt,
		&t.ResolvedAt,
		&t.DueAt,
		&t.EscalatedAt,
	}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const seqQuery = `
        INSERT INTO ticket_sequences (tenant_id, last_value) VALUES ($1, 1)
        ON CONFLICT (tenant_id) DO UPDATE SET last_value = ticket_sequences.last_value + 1
        RETURNING last_value`
	var seq int64
	if err := r.db.QueryRow(ctx, seqQuery, ticket.TenantID).Scan(&seq); err != nil {
		return fmt.Errorf("next ticket number: %w", err)
	}
	ticket.Number = domain.FormatTicketNumber(seq)
	if ticket.Workflow == nil {
		ticket.Workflow = []domain.WorkflowEntry{}
	}

	const query = `
        INSERT INTO tickets (tenant_id, business_unit_id, client_id, number, title, description, status,
            priority, level, is_escalated, category_id, assignee_person_id, assignee_group_id,
            created_by_id, modified_by_id, source, site_id, finding_type, created_at, modified_at,
            resolved_at, due_at, workflow_log)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		ticket.TenantID,
		ticket.BusinessUnitID,
		ticket.ClientID,
		ticket.Number,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Level,
		ticket.IsEscalated,
		ticket.CategoryID,
		ticket.AssigneePersonID,
		ticket.AssigneeGroupID,
		ticket.CreatedByID,
		ticket.ModifiedByID,
		ticket.Source,
		ticket.SiteID,
		ticket.FindingType,
		ticket.CreatedAt,
		ticket.ModifiedAt,
		ticket.ResolvedAt,
		ticket.DueAt,
		ticket.Workflow,
	).Scan(&ticket.ID)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `, t.workflow_log ` + ticketFrom + ` WHERE t.id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `, t.workflow_log ` + ticketFrom + ` WHERE t.id=$1 FOR UPDATE OF t`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	targets := append(ticketTargets(&ticket), &ticket.Workflow)
	if err := r.db.QueryRow(ctx, query, args...).Scan(targets...); err != nil {
		return nil, notFound(err)
	}
	return &ticket, nil
}

func ticketFieldValue(t *domain.Ticket, field domain.TicketField) (any, error) {
	switch field {
	case domain.FieldStatus:
		return t.Status, nil
	case domain.FieldPriority:
		return t.Priority, nil
	case domain.FieldLevel:
		return t.Level, nil
	case domain.FieldIsEscalated:
		return t.IsEscalated, nil
	case domain.FieldAssigneePersonID:
		return t.AssigneePersonID, nil
	case domain.FieldAssigneeGroupID:
		return t.AssigneeGroupID, nil
	case domain.FieldModifiedByID:
		return t.ModifiedByID, nil
	case domain.FieldModifiedAt:
		return t.ModifiedAt, nil
	case domain.FieldResolvedAt:
		return t.ResolvedAt, nil
	case domain.FieldEscalatedAt:
		return t.EscalatedAt, nil
	}
	return nil, fmt.Errorf("unknown ticket field %q", field)
}

func (r *ticketRepository) UpdateFields(ctx context.Context, ticket *domain.Ticket, fields ...domain.TicketField) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		val, err := ticketFieldValue(ticket, f)
		if err != nil {
			return err
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s=$%d", f, len(args)))
	}
	args = append(args, ticket.ID)
	query := fmt.Sprintf(`UPDATE tickets SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) IncrementLevel(ctx context.Context, id int64, fromLevel int) (int, error) {
	const query = `UPDATE tickets SET level = level + 1 WHERE id=$1 AND level=$2 RETURNING level`
	var level int
	if err := r.db.QueryRow(ctx, query, id, fromLevel).Scan(&level); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrConflict
		}
		return 0, err
	}
	return level, nil
}

func (r *ticketRepository) AppendWorkflow(ctx context.Context, id int64, entry domain.WorkflowEntry) error {
	const query = `UPDATE tickets SET workflow_log = workflow_log || $2::jsonb WHERE id=$1`
	cmd, err := r.db.Exec(ctx, query, id, []domain.WorkflowEntry{entry})
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) CountOpenByAssignee(ctx context.Context, scope WorkloadScope, personIDs []int64) (map[int64]int, error) {
	const query = `
        SELECT assignee_person_id, COUNT(*) FROM tickets
        WHERE tenant_id=$1 AND business_unit_id=$2 AND client_id=$3
          AND assignee_person_id = ANY($4)
          AND status NOT IN ('RESOLVED','CLOSED','CANCELLED')
        GROUP BY assignee_person_id`
	rows, err := r.db.Query(ctx, query, scope.TenantID, scope.BusinessUnitID, scope.ClientID, personIDs)
	if err != nil {
		return nil, err
	}
	return scanCounts(rows)
}

func (r *ticketRepository) CategoryHistory(ctx context.Context, tenantID, categoryID int64, personIDs []int64, since time.Time) (map[int64]int, error) {
	const query = `
        SELECT assignee_person_id, COUNT(*) FROM tickets
        WHERE tenant_id=$1 AND category_id=$2 AND assignee_person_id = ANY($3) AND created_at >= $4
        GROUP BY assignee_person_id`
	rows, err := r.db.Query(ctx, query, tenantID, categoryID, personIDs, since)
	if err != nil {
		return nil, err
	}
	return scanCounts(rows)
}

func (r *ticketRepository) FindAutoCreated(ctx context.Context, tenantID, siteID int64, findingType string, since time.Time) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `, t.workflow_log ` + ticketFrom + `
        WHERE t.tenant_id=$1 AND t.source='FINDING' AND t.site_id=$2 AND t.finding_type=$3 AND t.created_at >= $4
        ORDER BY t.created_at DESC LIMIT 1`
	return r.fetchSingle(ctx, query, tenantID, siteID, findingType, since)
}

func scanCounts(rows pgx.Rows) (map[int64]int, error) {
	defer rows.Close()
	result := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		result[id] = n
	}
	return result, rows.Err()
}
