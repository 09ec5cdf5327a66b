package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/entities"
)

type TenantRepository struct {
	db *pgxpool.Pool
}

func NewTenantRepository(db *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*entities.Tenant, error) {
	var t entities.Tenant
	err := r.db.QueryRow(ctx,
		"SELECT id, name, created_at, updated_at FROM tenants WHERE id = $1", id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &t, nil
}

func (r *TenantRepository) Save(ctx context.Context, t *entities.Tenant) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tenants (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
	`, t.ID, t.Name, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", mapPgError(err))
	}
	return nil
}
