package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/entities"
)

// AgentProfileRepository stores the per-tenant system prompt.
type AgentProfileRepository struct {
	db *pgxpool.Pool
}

func NewAgentProfileRepository(db *pgxpool.Pool) *AgentProfileRepository {
	return &AgentProfileRepository{db: db}
}

func (r *AgentProfileRepository) GetByTenantID(ctx context.Context, tenantID string) (*entities.AgentProfile, error) {
	var p entities.AgentProfile
	err := r.db.QueryRow(ctx,
		"SELECT tenant_id, system_prompt, updated_at FROM agent_profiles WHERE tenant_id = $1", tenantID,
	).Scan(&p.TenantID, &p.SystemPrompt, &p.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &p, nil
}

func (r *AgentProfileRepository) Save(ctx context.Context, p *entities.AgentProfile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO agent_profiles (tenant_id, system_prompt, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET system_prompt = EXCLUDED.system_prompt, updated_at = EXCLUDED.updated_at
	`, p.TenantID, p.SystemPrompt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert agent profile: %w", mapPgError(err))
	}
	return nil
}
