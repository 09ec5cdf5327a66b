package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/entities"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, tenant_id, email, password_hash, role, is_active, created_at"

func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		user.ID, user.TenantID, user.Email, user.PasswordHash, user.Role, user.IsActive, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", mapPgError(err))
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (*entities.User, error) {
	var user entities.User
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.TenantID, &user.Email, &user.PasswordHash, &user.Role, &user.IsActive, &user.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &user, nil
}
