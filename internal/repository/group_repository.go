package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

type groupRepository struct {
	db dbtx
}

func (r *groupRepository) Create(ctx context.Context, group *domain.Group) error {
	const query = `
        INSERT INTO assignee_groups (tenant_id, name, email, active)
        VALUES ($1,$2,$3,$4)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		group.TenantID,
		group.Name,
		group.Email,
		group.Active,
	).Scan(&group.ID)
}

func (r *groupRepository) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	return r.fetchSingle(ctx, `SELECT id, tenant_id, name, email, active FROM assignee_groups WHERE id=$1`, id)
}

func (r *groupRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Group, error) {
	return r.fetchSingle(ctx, `SELECT id, tenant_id, name, email, active FROM assignee_groups WHERE id=$1 FOR UPDATE`, id)
}

func (r *groupRepository) fetchSingle(ctx context.Context, query string, id int64) (*domain.Group, error) {
	var g domain.Group
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&g.ID,
		&g.TenantID,
		&g.Name,
		&g.Email,
		&g.Active,
	); err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}
