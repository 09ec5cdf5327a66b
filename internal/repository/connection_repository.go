package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/entities"
)

type ConnectionRepository struct {
	db *pgxpool.Pool
}

func NewConnectionRepository(db *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = "tenant_id, phone_number_id, business_account_id, access_token, status, embedded_signup_state, updated_at"

func (r *ConnectionRepository) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*entities.WhatsappConnection, error) {
	return r.getOne(ctx,
		"SELECT "+connectionColumns+" FROM whatsapp_connections WHERE phone_number_id = $1 ORDER BY updated_at DESC, tenant_id LIMIT 1",
		phoneNumberID)
}

func (r *ConnectionRepository) GetByEmbeddedSignupState(ctx context.Context, state string) (*entities.WhatsappConnection, error) {
	return r.getOne(ctx,
		"SELECT "+connectionColumns+" FROM whatsapp_connections WHERE embedded_signup_state = $1",
		state)
}

func (r *ConnectionRepository) GetByTenantID(ctx context.Context, tenantID string) (*entities.WhatsappConnection, error) {
	return r.getOne(ctx, "SELECT "+connectionColumns+" FROM whatsapp_connections WHERE tenant_id = $1", tenantID)
}

func (r *ConnectionRepository) getOne(ctx context.Context, query, arg string) (*entities.WhatsappConnection, error) {
	var c entities.WhatsappConnection
	var status string
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&c.TenantID, &c.PhoneNumberID, &c.BusinessAccountID, &c.AccessToken, &status, &c.EmbeddedSignupState, &c.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	c.Status = entities.ConnectionStatus(status)
	return &c, nil
}

func (r *ConnectionRepository) Save(ctx context.Context, c *entities.WhatsappConnection) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO whatsapp_connections (`+connectionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			phone_number_id = EXCLUDED.phone_number_id,
			business_account_id = EXCLUDED.business_account_id,
			access_token = EXCLUDED.access_token,
			status = EXCLUDED.status,
			embedded_signup_state = EXCLUDED.embedded_signup_state,
			updated_at = EXCLUDED.updated_at
	`, c.TenantID, c.PhoneNumberID, c.BusinessAccountID, c.AccessToken, string(c.Status), c.EmbeddedSignupState, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert whatsapp connection: %w", mapPgError(err))
	}
	return nil
}
