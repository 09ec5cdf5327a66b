package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/entities"
)

type RefreshTokenRepository struct {
	db *pgxpool.Pool
}

func NewRefreshTokenRepository(db *pgxpool.Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Get(ctx context.Context, jti string) (*entities.RefreshToken, error) {
	var t entities.RefreshToken
	err := r.db.QueryRow(ctx,
		"SELECT jti, user_id, tenant_id, expires_at, revoked_at, created_at FROM refresh_tokens WHERE jti = $1", jti,
	).Scan(&t.JTI, &t.UserID, &t.TenantID, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &t, nil
}

func (r *RefreshTokenRepository) Save(ctx context.Context, t *entities.RefreshToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (jti, user_id, tenant_id, expires_at, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.JTI, t.UserID, t.TenantID, t.ExpiresAt, t.RevokedAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", mapPgError(err))
	}
	return nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, jti string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE refresh_tokens SET revoked_at = COALESCE(revoked_at, $2) WHERE jti = $1", jti, at)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrNotFound
	}
	return nil
}
