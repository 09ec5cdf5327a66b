package interfaces

import (
	"context"
	"time"

	"wabot/internal/entities"
)

// Stores return entities.ErrNotFound when a record is absent.

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	// NewID returns a unique, roughly time-ordered id.
	NewID() string
	// NewToken returns an unguessable opaque token.
	NewToken() string
}

type ConnectionStore interface {
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*entities.WhatsappConnection, error)
	GetByTenantID(ctx context.Context, tenantID string) (*entities.WhatsappConnection, error)
	GetByEmbeddedSignupState(ctx context.Context, state string) (*entities.WhatsappConnection, error)
	Save(ctx context.Context, conn *entities.WhatsappConnection) error
}

type ConversationStore interface {
	GetWhatsappUser(ctx context.Context, tenantID, contactID string) (*entities.WhatsappUser, error)
	SaveWhatsappUser(ctx context.Context, user *entities.WhatsappUser) error
	GetConversationByContact(ctx context.Context, tenantID, contactID string) (*entities.Conversation, error)
	GetConversationByID(ctx context.Context, tenantID, conversationID string) (*entities.Conversation, error)
	ListConversations(ctx context.Context, tenantID string) ([]entities.Conversation, error)
	SaveConversation(ctx context.Context, conv *entities.Conversation) error
	SaveMessage(ctx context.Context, msg *entities.Message) error
	// ListMessages returns messages ordered by creation time.
	ListMessages(ctx context.Context, tenantID, conversationID string) ([]entities.Message, error)
}

type ProcessedEventStore interface {
	Exists(ctx context.Context, tenantID, providerEventID string) (bool, error)
	Mark(ctx context.Context, event *entities.ProcessedWebhookEvent) error
}

type BlacklistStore interface {
	Exists(ctx context.Context, tenantID, contactID string) (bool, error)
	List(ctx context.Context, tenantID string) ([]entities.BlacklistEntry, error)
	Save(ctx context.Context, entry *entities.BlacklistEntry) error
	Delete(ctx context.Context, tenantID, contactID string) error
}

type AgentProfileStore interface {
	GetByTenantID(ctx context.Context, tenantID string) (*entities.AgentProfile, error)
	Save(ctx context.Context, profile *entities.AgentProfile) error
}

type TenantStore interface {
	GetByID(ctx context.Context, id string) (*entities.Tenant, error)
	Save(ctx context.Context, tenant *entities.Tenant) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*entities.User, error)
	GetByEmail(ctx context.Context, email string) (*entities.User, error)
	// Create fails with entities.ErrConflict when the email is taken.
	Create(ctx context.Context, user *entities.User) error
}

type RefreshTokenStore interface {
	Get(ctx context.Context, jti string) (*entities.RefreshToken, error)
	Save(ctx context.Context, token *entities.RefreshToken) error
	Revoke(ctx context.Context, jti string, at time.Time) error
}

// MessagingProvider is the WhatsApp side: webhook parsing and outbound text.
type MessagingProvider interface {
	ParseIncomingEvents(raw []byte) ([]entities.IncomingMessageEvent, error)
	SendText(ctx context.Context, accessToken, phoneNumberID, contactID, text string) (string, error)
}

type LLMProvider interface {
	GenerateReply(ctx context.Context, systemPrompt string, history []entities.ChatMessage) (string, error)
}

// ConversationLocker serializes work on one conversation key. The returned
// func releases the lock.
type ConversationLocker interface {
	Lock(key string) (unlock func())
}
