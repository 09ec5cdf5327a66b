package entities

import (
	"fmt"
	"time"
)

// PreviewMaxRunes caps Conversation.LastMessagePreview.
const PreviewMaxRunes = 120

type ControlMode string

const (
	ControlModeAI    ControlMode = "AI"
	ControlModeHuman ControlMode = "HUMAN"
)

func ParseControlMode(s string) (ControlMode, error) {
	switch ControlMode(s) {
	case ControlModeAI, ControlModeHuman:
		return ControlMode(s), nil
	}
	return "", Invalidf("control_mode must be AI or HUMAN, got %q", s)
}

// Conversation is the single thread between a tenant and one WhatsApp contact.
// Only AppendMessage and SetControlMode mutate it.
type Conversation struct {
	ID                 string      `json:"id"`
	TenantID           string      `json:"tenant_id"`
	WhatsappUserID     string      `json:"whatsapp_user_id"`
	StartedAt          time.Time   `json:"started_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	LastMessagePreview *string     `json:"last_message_preview"`
	MessageIDs         []string    `json:"message_ids"`
	ControlMode        ControlMode `json:"control_mode"`
}

// NewConversation starts an empty conversation in AI mode.
func NewConversation(id, tenantID, contactID string, now time.Time) *Conversation {
	return &Conversation{
		ID:             id,
		TenantID:       tenantID,
		WhatsappUserID: contactID,
		StartedAt:      now,
		UpdatedAt:      now,
		MessageIDs:     []string{},
		ControlMode:    ControlModeAI,
	}
}

func (c *Conversation) AppendMessage(messageID, preview string, now time.Time) {
	c.MessageIDs = append(c.MessageIDs, messageID)
	p := TruncateRunes(preview, PreviewMaxRunes)
	c.LastMessagePreview = &p
	c.touch(now)
}

func (c *Conversation) SetControlMode(mode ControlMode, now time.Time) {
	c.ControlMode = mode
	c.touch(now)
}

// touch never moves UpdatedAt backwards.
func (c *Conversation) touch(now time.Time) {
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

func (c *Conversation) IsHuman() bool {
	return c.ControlMode == ControlModeHuman
}

// Clone returns a deep copy so stores never share slices with callers.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.MessageIDs = append([]string(nil), c.MessageIDs...)
	if c.LastMessagePreview != nil {
		p := *c.LastMessagePreview
		out.LastMessagePreview = &p
	}
	return &out
}

func (c *Conversation) String() string {
	return fmt.Sprintf("conversation(%s tenant=%s contact=%s mode=%s)", c.ID, c.TenantID, c.WhatsappUserID, c.ControlMode)
}

// TruncateRunes cuts s to at most n characters without splitting a rune.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
