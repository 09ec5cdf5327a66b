package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/entities"
)

type BlacklistRepository struct {
	db *pgxpool.Pool
}

func NewBlacklistRepository(db *pgxpool.Pool) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

func (r *BlacklistRepository) Exists(ctx context.Context, tenantID, contactID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM blacklist_entries WHERE tenant_id = $1 AND whatsapp_user_id = $2)",
		tenantID, contactID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return exists, nil
}

func (r *BlacklistRepository) List(ctx context.Context, tenantID string) ([]entities.BlacklistEntry, error) {
	rows, err := r.db.Query(ctx,
		"SELECT tenant_id, whatsapp_user_id, created_at FROM blacklist_entries WHERE tenant_id = $1 ORDER BY created_at, whatsapp_user_id",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	out := []entities.BlacklistEntry{}
	for rows.Next() {
		var e entities.BlacklistEntry
		if err := rows.Scan(&e.TenantID, &e.WhatsappUserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blacklist entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Save is idempotent; an existing entry keeps its original created_at.
func (r *BlacklistRepository) Save(ctx context.Context, e *entities.BlacklistEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO blacklist_entries (tenant_id, whatsapp_user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, whatsapp_user_id) DO NOTHING
	`, e.TenantID, e.WhatsappUserID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert blacklist entry: %w", err)
	}
	return nil
}

func (r *BlacklistRepository) Delete(ctx context.Context, tenantID, contactID string) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM blacklist_entries WHERE tenant_id = $1 AND whatsapp_user_id = $2", tenantID, contactID)
	if err != nil {
		return fmt.Errorf("delete blacklist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrNotFound
	}
	return nil
}
