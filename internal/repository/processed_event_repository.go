package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/entities"
)

type ProcessedEventRepository struct {
	db *pgxpool.Pool
}

func NewProcessedEventRepository(db *pgxpool.Pool) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

func (r *ProcessedEventRepository) Exists(ctx context.Context, tenantID, providerEventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE tenant_id = $1 AND provider_event_id = $2)",
		tenantID, providerEventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return exists, nil
}

func (r *ProcessedEventRepository) Mark(ctx context.Context, e *entities.ProcessedWebhookEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO processed_webhook_events (tenant_id, provider_event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, provider_event_id) DO NOTHING
	`, e.TenantID, e.ProviderEventID, e.ProcessedAt)
	if err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	return nil
}
