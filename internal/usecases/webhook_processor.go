package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"wabot/internal/entities"
	"wabot/internal/interfaces"
	"wabot/internal/logger"
)

var tracer = otel.Tracer("wabot/usecases")

type ProcessResult struct {
	Status string `json:"status"`
}

type WebhookProcessorDeps struct {
	Connections     interfaces.ConnectionStore
	Conversations   interfaces.ConversationStore
	ProcessedEvents interfaces.ProcessedEventStore
	Blacklist       interfaces.BlacklistStore
	AgentProfiles   interfaces.AgentProfileStore
	Messaging       interfaces.MessagingProvider
	LLM             interfaces.LLMProvider
	Locker          interfaces.ConversationLocker
	Clock           interfaces.Clock
	IDs             interfaces.IDGenerator
}

type WebhookProcessorConfig struct {
	DefaultSystemPrompt string
	ContextMessageLimit int
}

// WebhookProcessor applies provider webhook events to conversation state and
// drives the AI reply round trip.
type WebhookProcessor struct {
	deps WebhookProcessorDeps
	cfg  WebhookProcessorConfig
}

func NewWebhookProcessor(deps WebhookProcessorDeps, cfg WebhookProcessorConfig) *WebhookProcessor {
	if cfg.ContextMessageLimit <= 0 {
		cfg.ContextMessageLimit = 12
	}
	return &WebhookProcessor{deps: deps, cfg: cfg}
}

// ProcessPayload parses a raw webhook body and processes its events one by
// one in payload order. Skipped events (unknown number, duplicate,
// blacklisted) are not errors. The first event failing with
// entities.ErrInvalidState or entities.ErrExternalProvider aborts the rest of
// the payload; nothing after it is marked processed.
func (p *WebhookProcessor) ProcessPayload(ctx context.Context, raw []byte) (*ProcessResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "wabot.webhook.processor"})
	ctx, span := tracer.Start(ctx, "webhook.process_payload")
	defer span.End()

	events, err := p.deps.Messaging.ParseIncomingEvents(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}
	span.SetAttributes(attribute.Int("webhook.events", len(events)))

	for i := range events {
		if err := p.processEvent(ctx, events[i]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "event failed")
			return nil, err
		}
	}

	return &ProcessResult{Status: "processed"}, nil
}

func (p *WebhookProcessor) processEvent(ctx context.Context, ev entities.IncomingMessageEvent) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ProviderEventID: logger.Ptr(ev.ProviderEventID)})
	ctx, span := tracer.Start(ctx, "webhook.process_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.source", string(ev.Source)),
		attribute.String("webhook.message_type", ev.MessageType),
	)

	conn, err := p.deps.Connections.GetByPhoneNumberID(ctx, ev.PhoneNumberID)
	if errors.Is(err, entities.ErrNotFound) {
		slog.WarnContext(ctx, "webhook.event.skipped",
			"reason", "unmapped_phone_number",
			"phone_number_id", ev.PhoneNumberID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup connection by phone number: %w", err)
	}

	tenantID := conn.TenantID
	ctx = logger.WithLogFields(ctx, logger.LogFields{TenantID: logger.Ptr(tenantID)})

	unlock := p.deps.Locker.Lock(conversationKey(tenantID, ev.WhatsappContactID))
	defer unlock()

	processed, err := p.deps.ProcessedEvents.Exists(ctx, tenantID, ev.ProviderEventID)
	if err != nil {
		return fmt.Errorf("check processed event: %w", err)
	}
	if processed {
		slog.InfoContext(ctx, "webhook.duplicate_skipped")
		return nil
	}

	blocked, err := p.deps.Blacklist.Exists(ctx, tenantID, ev.WhatsappContactID)
	if err != nil {
		return fmt.Errorf("check blacklist: %w", err)
	}
	if blocked {
		if err := p.markProcessed(ctx, tenantID, ev.ProviderEventID); err != nil {
			return err
		}
		slog.InfoContext(ctx, "webhook.blacklist_blocked", "source", ev.Source)
		return nil
	}

	if !conn.CanSend() {
		slog.ErrorContext(ctx, "webhook.event.invalid_state",
			"reason", "connection_missing_credentials",
			"status", conn.Status)
		return fmt.Errorf("%w: whatsapp connection for tenant %s is missing access token or phone number id",
			entities.ErrInvalidState, tenantID)
	}

	if err := p.ensureWhatsappUser(ctx, tenantID, ev); err != nil {
		return err
	}

	conv, err := p.loadOrCreateConversation(ctx, tenantID, ev.WhatsappContactID)
	if err != nil {
		return err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ConversationID: logger.Ptr(conv.ID)})

	switch ev.Source {
	case entities.SourceOwnerApp:
		return p.handleOwnerEcho(ctx, conv, ev)
	case entities.SourceCustomer:
		return p.handleCustomerMessage(ctx, conn, conv, ev)
	default:
		return fmt.Errorf("%w: unknown event source %q", entities.ErrValidation, ev.Source)
	}
}

// handleOwnerEcho records a reply the owner sent from the WhatsApp Business
// app and hands the conversation to a human. The switch to HUMAN only goes
// back through the control-mode API.
func (p *WebhookProcessor) handleOwnerEcho(ctx context.Context, conv *entities.Conversation, ev entities.IncomingMessageEvent) error {
	content := ev.MessageText
	if ev.MessageType != "text" && strings.TrimSpace(content) == "" {
		content = entities.OwnerAppNonTextMarker(ev.MessageType)
	}

	msg, err := p.appendMessage(ctx, conv, entities.DirectionOutbound, entities.RoleHumanAgent, content, logger.Ptr(ev.MessageID))
	if err != nil {
		return err
	}

	previous := conv.ControlMode
	conv.SetControlMode(entities.ControlModeHuman, p.deps.Clock.Now())
	if err := p.deps.Conversations.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	if err := p.markProcessed(ctx, conv.TenantID, ev.ProviderEventID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "webhook.owner_handoff_human",
		"message_id", msg.ID,
		"previous_mode", previous)
	return nil
}

func (p *WebhookProcessor) handleCustomerMessage(ctx context.Context, conn *entities.WhatsappConnection, conv *entities.Conversation, ev entities.IncomingMessageEvent) error {
	inbound, err := p.appendMessage(ctx, conv, entities.DirectionInbound, entities.RoleUser, ev.MessageText, logger.Ptr(ev.MessageID))
	if err != nil {
		return err
	}
	if err := p.deps.Conversations.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	if conv.IsHuman() {
		if err := p.markProcessed(ctx, conv.TenantID, ev.ProviderEventID); err != nil {
			return err
		}
		slog.InfoContext(ctx, "webhook.human_mode_skip_ai", "message_id", inbound.ID)
		return nil
	}

	history, err := p.buildContext(ctx, conv)
	if err != nil {
		return err
	}
	systemPrompt, err := p.resolveSystemPrompt(ctx, conv.TenantID)
	if err != nil {
		return err
	}

	reply, providerMessageID, err := p.replyAndSend(ctx, conn, ev.WhatsappContactID, systemPrompt, history)
	if err != nil {
		slog.ErrorContext(ctx, "webhook.ai_reply_failed",
			"error", err,
			"inbound_message_id", inbound.ID)
		return err
	}

	outbound, err := p.appendMessage(ctx, conv, entities.DirectionOutbound, entities.RoleAssistant, reply, &providerMessageID)
	if err != nil {
		return err
	}
	if err := p.deps.Conversations.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	if err := p.markProcessed(ctx, conv.TenantID, ev.ProviderEventID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "webhook.ai_reply_sent",
		"message_id", outbound.ID,
		"provider_message_id", providerMessageID,
		"context_messages", len(history))
	return nil
}

// replyAndSend is the single failure boundary around the LLM call and the
// outbound send. Every failure comes back as entities.ErrExternalProvider.
func (p *WebhookProcessor) replyAndSend(ctx context.Context, conn *entities.WhatsappConnection, contactID, systemPrompt string, history []entities.ChatMessage) (string, string, error) {
	ctx, span := tracer.Start(ctx, "webhook.reply_and_send")
	defer span.End()

	reply, err := p.deps.LLM.GenerateReply(ctx, systemPrompt, history)
	if err != nil {
		span.SetStatus(codes.Error, "llm failed")
		return "", "", asExternalProviderError("generate reply", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		span.SetStatus(codes.Error, "empty reply")
		return "", "", fmt.Errorf("%w: generate reply: empty reply", entities.ErrExternalProvider)
	}

	providerMessageID, err := p.deps.Messaging.SendText(ctx, *conn.AccessToken, *conn.PhoneNumberID, contactID, reply)
	if err != nil {
		span.SetStatus(codes.Error, "send failed")
		return "", "", asExternalProviderError("send text", err)
	}
	return reply, providerMessageID, nil
}

func asExternalProviderError(op string, err error) error {
	if errors.Is(err, entities.ErrExternalProvider) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", entities.ErrExternalProvider, op, err)
}

// buildContext returns the last N messages oldest first, as LLM turns.
func (p *WebhookProcessor) buildContext(ctx context.Context, conv *entities.Conversation) ([]entities.ChatMessage, error) {
	msgs, err := p.deps.Conversations.ListMessages(ctx, conv.TenantID, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if n := p.cfg.ContextMessageLimit; len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	history := make([]entities.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, m.ToChatMessage())
	}
	return history, nil
}

func (p *WebhookProcessor) resolveSystemPrompt(ctx context.Context, tenantID string) (string, error) {
	profile, err := p.deps.AgentProfiles.GetByTenantID(ctx, tenantID)
	if errors.Is(err, entities.ErrNotFound) {
		return p.cfg.DefaultSystemPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("load agent profile: %w", err)
	}
	if strings.TrimSpace(profile.SystemPrompt) == "" {
		return p.cfg.DefaultSystemPrompt, nil
	}
	return profile.SystemPrompt, nil
}

func (p *WebhookProcessor) ensureWhatsappUser(ctx context.Context, tenantID string, ev entities.IncomingMessageEvent) error {
	_, err := p.deps.Conversations.GetWhatsappUser(ctx, tenantID, ev.WhatsappContactID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, entities.ErrNotFound) {
		return fmt.Errorf("load whatsapp user: %w", err)
	}
	user := &entities.WhatsappUser{
		ID:          ev.WhatsappContactID,
		TenantID:    tenantID,
		DisplayName: ev.ContactDisplayName,
		CreatedAt:   p.deps.Clock.Now(),
	}
	if err := p.deps.Conversations.SaveWhatsappUser(ctx, user); err != nil {
		return fmt.Errorf("save whatsapp user: %w", err)
	}
	return nil
}

func (p *WebhookProcessor) loadOrCreateConversation(ctx context.Context, tenantID, contactID string) (*entities.Conversation, error) {
	conv, err := p.deps.Conversations.GetConversationByContact(ctx, tenantID, contactID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv = entities.NewConversation(p.deps.IDs.NewID(), tenantID, contactID, p.deps.Clock.Now())
	if err := p.deps.Conversations.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	slog.InfoContext(ctx, "conversation.created", "conversation_id", conv.ID)
	return conv, nil
}

// appendMessage persists a message and appends it to conv in memory. The
// caller saves conv.
func (p *WebhookProcessor) appendMessage(ctx context.Context, conv *entities.Conversation, dir entities.Direction, role entities.Role, content string, providerMessageID *string) (*entities.Message, error) {
	now := p.deps.Clock.Now()
	msg, err := entities.NewMessage(p.deps.IDs.NewID(), conv.ID, conv.TenantID, dir, role, content, providerMessageID, now)
	if err != nil {
		return nil, err
	}
	if err := p.deps.Conversations.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	conv.AppendMessage(msg.ID, msg.Content, now)
	return msg, nil
}

func (p *WebhookProcessor) markProcessed(ctx context.Context, tenantID, providerEventID string) error {
	err := p.deps.ProcessedEvents.Mark(ctx, &entities.ProcessedWebhookEvent{
		TenantID:        tenantID,
		ProviderEventID: providerEventID,
		ProcessedAt:     p.deps.Clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func conversationKey(tenantID, contactID string) string {
	return tenantID + ":" + contactID
}
