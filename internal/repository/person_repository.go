package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

const personColumns = `id, tenant_id, business_unit_id, client_id, name, email, active`

type personRepository struct {
	db dbtx
}

func (r *personRepository) Create(ctx context.Context, person *domain.Person) error {
	const query = `
        INSERT INTO people (tenant_id, business_unit_id, client_id, name, email, active)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		person.TenantID,
		person.BusinessUnitID,
		person.ClientID,
		person.Name,
		person.Email,
		person.Active,
	).Scan(&person.ID)
}

func (r *personRepository) GetByID(ctx context.Context, id int64) (*domain.Person, error) {
	return r.fetchSingle(ctx, `SELECT `+personColumns+` FROM people WHERE id=$1`, id)
}

func (r *personRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Person, error) {
	return r.fetchSingle(ctx, `SELECT `+personColumns+` FROM people WHERE id=$1 FOR UPDATE`, id)
}

func (r *personRepository) fetchSingle(ctx context.Context, query string, id int64) (*domain.Person, error) {
	var p domain.Person
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.TenantID,
		&p.BusinessUnitID,
		&p.ClientID,
		&p.Name,
		&p.Email,
		&p.Active,
	); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *personRepository) ListEligible(ctx context.Context, scope WorkloadScope) ([]domain.Person, error) {
	const query = `
        SELECT ` + personColumns + ` FROM people
        WHERE tenant_id=$1 AND business_unit_id=$2 AND client_id=$3 AND active = TRUE
        ORDER BY id ASC`
	rows, err := r.db.Query(ctx, query, scope.TenantID, scope.BusinessUnitID, scope.ClientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.TenantID, &p.BusinessUnitID, &p.ClientID, &p.Name, &p.Email, &p.Active); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
