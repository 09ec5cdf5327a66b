package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/entities"
)

// ConversationRepository persists WhatsApp users, conversations and messages.
type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) GetWhatsappUser(ctx context.Context, tenantID, contactID string) (*entities.WhatsappUser, error) {
	var u entities.WhatsappUser
	err := r.db.QueryRow(ctx,
		"SELECT id, tenant_id, display_name, created_at FROM whatsapp_users WHERE tenant_id = $1 AND id = $2",
		tenantID, contactID,
	).Scan(&u.ID, &u.TenantID, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &u, nil
}

func (r *ConversationRepository) SaveWhatsappUser(ctx context.Context, u *entities.WhatsappUser) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO whatsapp_users (tenant_id, id, display_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id) DO UPDATE SET display_name = EXCLUDED.display_name
	`, u.TenantID, u.ID, u.DisplayName, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert whatsapp user: %w", mapPgError(err))
	}
	return nil
}

const conversationColumns = "id, tenant_id, whatsapp_user_id, started_at, updated_at, last_message_preview, message_ids, control_mode"

func scanConversation(row pgx.Row) (*entities.Conversation, error) {
	var c entities.Conversation
	var mode string
	if err := row.Scan(&c.ID, &c.TenantID, &c.WhatsappUserID, &c.StartedAt, &c.UpdatedAt,
		&c.LastMessagePreview, &c.MessageIDs, &mode); err != nil {
		return nil, mapPgError(err)
	}
	c.ControlMode = entities.ControlMode(mode)
	if c.MessageIDs == nil {
		c.MessageIDs = []string{}
	}
	return &c, nil
}

func (r *ConversationRepository) GetConversationByContact(ctx context.Context, tenantID, contactID string) (*entities.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE tenant_id = $1 AND whatsapp_user_id = $2",
		tenantID, contactID))
}

func (r *ConversationRepository) GetConversationByID(ctx context.Context, tenantID, conversationID string) (*entities.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE tenant_id = $1 AND id = $2",
		tenantID, conversationID))
}

func (r *ConversationRepository) ListConversations(ctx context.Context, tenantID string) ([]entities.Conversation, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE tenant_id = $1 ORDER BY updated_at DESC", tenantID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []entities.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SaveConversation upserts by id. GREATEST keeps updated_at monotonic even
// if a stale copy is written back.
func (r *ConversationRepository) SaveConversation(ctx context.Context, c *entities.Conversation) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			updated_at = GREATEST(conversations.updated_at, EXCLUDED.updated_at),
			last_message_preview = EXCLUDED.last_message_preview,
			message_ids = EXCLUDED.message_ids,
			control_mode = EXCLUDED.control_mode
	`, c.ID, c.TenantID, c.WhatsappUserID, c.StartedAt, c.UpdatedAt, c.LastMessagePreview, c.MessageIDs, string(c.ControlMode))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", mapPgError(err))
	}
	return nil
}

func (r *ConversationRepository) SaveMessage(ctx context.Context, m *entities.Message) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, tenant_id, direction, role, content, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.ConversationID, m.TenantID, string(m.Direction), string(m.Role), m.Content, m.ProviderMessageID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", mapPgError(err))
	}
	return nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, tenantID, conversationID string) ([]entities.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, conversation_id, tenant_id, direction, role, content, provider_message_id, created_at
		FROM messages
		WHERE tenant_id = $1 AND conversation_id = $2
		ORDER BY created_at, seq
	`, tenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []entities.Message{}
	for rows.Next() {
		var m entities.Message
		var dir, role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TenantID, &dir, &role, &m.Content, &m.ProviderMessageID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Direction = entities.Direction(dir)
		m.Role = entities.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
