package entities

import (
	"strings"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Role is who spoke. RoleHumanAgent is an owner replying from the WhatsApp
// Business app rather than through us.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleHumanAgent Role = "human_agent"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleHumanAgent:
		return true
	}
	return false
}

// Message is immutable once created.
type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	TenantID          string    `json:"tenant_id"`
	Direction         Direction `json:"direction"`
	Role              Role      `json:"role"`
	Content           string    `json:"content"`
	ProviderMessageID *string   `json:"provider_message_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewMessage validates and normalizes a message. Content is trimmed and must
// not be empty.
func NewMessage(id, conversationID, tenantID string, dir Direction, role Role, content string, providerMessageID *string, now time.Time) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, Invalidf("message content cannot be empty")
	}
	if dir != DirectionInbound && dir != DirectionOutbound {
		return nil, Invalidf("unknown message direction %q", dir)
	}
	if !role.Valid() {
		return nil, Invalidf("unknown message role %q", role)
	}
	return &Message{
		ID:                id,
		ConversationID:    conversationID,
		TenantID:          tenantID,
		Direction:         dir,
		Role:              role,
		Content:           content,
		ProviderMessageID: providerMessageID,
		CreatedAt:         now,
	}, nil
}

// ChatMessage is one turn of LLM context. Role is user or assistant.
type ChatMessage struct {
	Role    Role
	Content string
}

// ToChatMessage maps a stored message onto LLM context. Human agent turns are
// business-side speech, so they become assistant turns.
func (m Message) ToChatMessage() ChatMessage {
	role := m.Role
	if role == RoleHumanAgent {
		role = RoleAssistant
	}
	return ChatMessage{Role: role, Content: m.Content}
}
