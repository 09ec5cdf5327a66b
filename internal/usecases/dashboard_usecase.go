package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wabot/internal/entities"
	"wabot/internal/interfaces"
)

// DashboardUsecase backs the owner dashboard: agent settings, conversation
// history and the manual AI/HUMAN switch.
type DashboardUsecase struct {
	conversations interfaces.ConversationStore
	agentProfiles interfaces.AgentProfileStore
	locker        interfaces.ConversationLocker
	clock         interfaces.Clock
	defaultPrompt string
}

func NewDashboardUsecase(conversations interfaces.ConversationStore, agentProfiles interfaces.AgentProfileStore, locker interfaces.ConversationLocker, clock interfaces.Clock, defaultPrompt string) *DashboardUsecase {
	return &DashboardUsecase{
		conversations: conversations,
		agentProfiles: agentProfiles,
		locker:        locker,
		clock:         clock,
		defaultPrompt: defaultPrompt,
	}
}

// GetSystemPrompt returns the tenant's prompt, creating the default profile
// on first access.
func (u *DashboardUsecase) GetSystemPrompt(ctx context.Context, claims TokenClaims) (*entities.AgentProfile, error) {
	profile, err := u.agentProfiles.GetByTenantID(ctx, claims.TenantID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("load agent profile: %w", err)
	}

	profile, err = entities.NewAgentProfile(claims.TenantID, u.defaultPrompt, u.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := u.agentProfiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("save agent profile: %w", err)
	}
	return profile, nil
}

func (u *DashboardUsecase) UpdateSystemPrompt(ctx context.Context, claims TokenClaims, systemPrompt string) (*entities.AgentProfile, error) {
	profile, err := entities.NewAgentProfile(claims.TenantID, systemPrompt, u.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := u.agentProfiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("save agent profile: %w", err)
	}
	slog.InfoContext(ctx, "agent.system_prompt_updated",
		"tenant_id", claims.TenantID,
		"prompt_length", len(profile.SystemPrompt))
	return profile, nil
}

// ListConversations returns the tenant's conversations, most recently updated first.
func (u *DashboardUsecase) ListConversations(ctx context.Context, claims TokenClaims) ([]entities.Conversation, error) {
	list, err := u.conversations.ListConversations(ctx, claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return list, nil
}

func (u *DashboardUsecase) ListMessages(ctx context.Context, claims TokenClaims, conversationID string) ([]entities.Message, error) {
	if _, err := u.conversations.GetConversationByID(ctx, claims.TenantID, conversationID); err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return nil, fmt.Errorf("%w: conversation not found", entities.ErrNotFound)
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	msgs, err := u.conversations.ListMessages(ctx, claims.TenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// UpdateControlMode is the owner's manual switch between AI and HUMAN. It
// takes the same conversation lock as webhook processing.
func (u *DashboardUsecase) UpdateControlMode(ctx context.Context, claims TokenClaims, conversationID string, mode entities.ControlMode) (*entities.Conversation, error) {
	if err := requireOwner(claims); err != nil {
		return nil, err
	}
	if _, err := entities.ParseControlMode(string(mode)); err != nil {
		return nil, err
	}

	conv, err := u.conversations.GetConversationByID(ctx, claims.TenantID, conversationID)
	if errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation not found", entities.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	unlock := u.locker.Lock(conversationKey(conv.TenantID, conv.WhatsappUserID))
	defer unlock()

	// Reload under the lock so a concurrent webhook append is not lost.
	conv, err = u.conversations.GetConversationByID(ctx, claims.TenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("reload conversation: %w", err)
	}
	conv.SetControlMode(mode, u.clock.Now())
	if err := u.conversations.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	slog.InfoContext(ctx, "conversation.control_mode_changed",
		"tenant_id", conv.TenantID,
		"conversation_id", conv.ID,
		"control_mode", conv.ControlMode)
	return conv, nil
}
