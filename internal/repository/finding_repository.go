package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

type findingRepository struct {
	db dbtx
}

func (r *findingRepository) Create(ctx context.Context, f *domain.Finding) error {
	const query = `
        INSERT INTO findings (tenant_id, site_id, category_id, finding_type, severity, summary,
            observed_at, outcome, ticket_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		f.TenantID,
		f.SiteID,
		f.CategoryID,
		f.FindingType,
		f.Severity,
		f.Summary,
		f.ObservedAt,
		f.Outcome,
		f.TicketID,
	).Scan(&f.ID)
}
