package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/config"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DBConfig) (*PostgresClient, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}

	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

// migrations run in order on every start; each one is idempotent.
var migrations = []struct {
	name string
	sql  string
}{
	{"tenants", `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`},
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'owner',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		);`},
	{"refresh_tokens", `
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			jti TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		);`},
	{"agent_profiles", `
		CREATE TABLE IF NOT EXISTS agent_profiles (
			tenant_id TEXT PRIMARY KEY,
			system_prompt TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`},
	{"whatsapp_connections", `
		CREATE TABLE IF NOT EXISTS whatsapp_connections (
			tenant_id TEXT PRIMARY KEY,
			phone_number_id TEXT,
			business_account_id TEXT,
			access_token TEXT,
			status TEXT NOT NULL,
			embedded_signup_state TEXT,
			updated_at TIMESTAMPTZ NOT NULL
		);`},
	{"whatsapp_connections_phone_idx", `
		CREATE INDEX IF NOT EXISTS whatsapp_connections_phone_idx
			ON whatsapp_connections (phone_number_id);`},
	{"whatsapp_connections_signup_state_idx", `
		CREATE UNIQUE INDEX IF NOT EXISTS whatsapp_connections_signup_state_idx
			ON whatsapp_connections (embedded_signup_state);`},
	{"whatsapp_users", `
		CREATE TABLE IF NOT EXISTS whatsapp_users (
			tenant_id TEXT NOT NULL,
			id TEXT NOT NULL,
			display_name TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, id)
		);`},
	{"conversations", `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			whatsapp_user_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_message_preview TEXT,
			message_ids TEXT[] NOT NULL DEFAULT '{}',
			control_mode TEXT NOT NULL DEFAULT 'AI',
			UNIQUE (tenant_id, whatsapp_user_id)
		);`},
	{"messages", `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			conversation_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			provider_message_id TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);`},
	{"messages_conversation_idx", `
		CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON messages (tenant_id, conversation_id, created_at, seq);`},
	{"processed_webhook_events", `
		CREATE TABLE IF NOT EXISTS processed_webhook_events (
			tenant_id TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, provider_event_id)
		);`},
	{"blacklist_entries", `
		CREATE TABLE IF NOT EXISTS blacklist_entries (
			tenant_id TEXT NOT NULL,
			whatsapp_user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, whatsapp_user_id)
		);`},
}

func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := p.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", m.name, err)
		}
	}
	slog.InfoContext(ctx, "database migrated", "migrations", len(migrations))
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
