package entities

import (
	"strings"
	"time"
)

type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionPending      ConnectionStatus = "PENDING"
	ConnectionConnected    ConnectionStatus = "CONNECTED"
)

// WhatsappConnection binds a tenant to a WhatsApp Business phone number.
type WhatsappConnection struct {
	TenantID            string           `json:"tenant_id"`
	PhoneNumberID       *string          `json:"phone_number_id"`
	BusinessAccountID   *string          `json:"business_account_id"`
	AccessToken         *string          `json:"-"`
	Status              ConnectionStatus `json:"status"`
	EmbeddedSignupState *string          `json:"-"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// CanSend reports whether both outbound credentials are present.
func (c *WhatsappConnection) CanSend() bool {
	return c.AccessToken != nil && *c.AccessToken != "" &&
		c.PhoneNumberID != nil && *c.PhoneNumberID != ""
}

type WhatsappUser struct {
	ID          string    `json:"id"` // contact wa_id
	TenantID    string    `json:"tenant_id"`
	DisplayName *string   `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type BlacklistEntry struct {
	TenantID       string    `json:"tenant_id"`
	WhatsappUserID string    `json:"whatsapp_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type AgentProfile struct {
	TenantID     string    `json:"tenant_id"`
	SystemPrompt string    `json:"system_prompt"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ProcessedWebhookEvent struct {
	TenantID        string    `json:"tenant_id"`
	ProviderEventID string    `json:"provider_event_id"`
	ProcessedAt     time.Time `json:"processed_at"`
}

type EventSource string

const (
	SourceCustomer EventSource = "CUSTOMER"
	SourceOwnerApp EventSource = "OWNER_APP"
)

// IncomingMessageEvent is one normalized message from a provider webhook.
type IncomingMessageEvent struct {
	ProviderEventID    string
	PhoneNumberID      string
	WhatsappContactID  string
	ContactDisplayName *string
	MessageID          string
	MessageType        string
	Source             EventSource
	MessageText        string
}

// NewAgentProfile trims the prompt and rejects an empty one.
func NewAgentProfile(tenantID, systemPrompt string, now time.Time) (*AgentProfile, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	if systemPrompt == "" {
		return nil, Invalidf("system prompt cannot be empty")
	}
	return &AgentProfile{TenantID: tenantID, SystemPrompt: systemPrompt, UpdatedAt: now}, nil
}

// OwnerAppNonTextMarker is the stored content for an owner-app echo that
// carries no text body, e.g. an image.
func OwnerAppNonTextMarker(messageType string) string {
	return "[owner_app_non_text:" + messageType + "]"
}
