package usecases_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wabot/internal/entities"
	"wabot/internal/usecases"
)

// steppingClock advances one second on every read so ordering by time is
// deterministic.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

func (g *sequentialIDs) NewToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("token-%d", g.n)
}

type sentText struct {
	AccessToken   string
	PhoneNumberID string
	ContactID     string
	Text          string
}

type mockMessaging struct {
	mu      sync.Mutex
	events  []entities.IncomingMessageEvent
	parseFn func(raw []byte) ([]entities.IncomingMessageEvent, error)
	sendFn  func(ctx context.Context, accessToken, phoneNumberID, contactID, text string) (string, error)
	sent    []sentText
}

func (m *mockMessaging) ParseIncomingEvents(raw []byte) ([]entities.IncomingMessageEvent, error) {
	if m.parseFn != nil {
		return m.parseFn(raw)
	}
	return m.events, nil
}

func (m *mockMessaging) SendText(ctx context.Context, accessToken, phoneNumberID, contactID, text string) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, sentText{accessToken, phoneNumberID, contactID, text})
	n := len(m.sent)
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(ctx, accessToken, phoneNumberID, contactID, text)
	}
	return fmt.Sprintf("wamid.out-%d", n), nil
}

func (m *mockMessaging) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type llmCall struct {
	SystemPrompt string
	History      []entities.ChatMessage
}

type mockLLM struct {
	mu         sync.Mutex
	generateFn func(ctx context.Context, systemPrompt string, history []entities.ChatMessage) (string, error)
	calls      []llmCall
}

func (m *mockLLM) GenerateReply(ctx context.Context, systemPrompt string, history []entities.ChatMessage) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, llmCall{systemPrompt, append([]entities.ChatMessage(nil), history...)})
	m.mu.Unlock()
	if m.generateFn != nil {
		return m.generateFn(ctx, systemPrompt, history)
	}
	return "Thanks for reaching out!", nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockLLM) lastCall() llmCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLocker) Lock(key string) func() {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return func() {}
}

func customerText(eventID, contactID, text string) entities.IncomingMessageEvent {
	return entities.IncomingMessageEvent{
		ProviderEventID:   eventID,
		PhoneNumberID:     "pn-1",
		WhatsappContactID: contactID,
		MessageID:         eventID,
		MessageType:       "text",
		Source:            entities.SourceCustomer,
		MessageText:       text,
	}
}

func ownerEcho(eventID, contactID, messageType, text string) entities.IncomingMessageEvent {
	return entities.IncomingMessageEvent{
		ProviderEventID:   eventID,
		PhoneNumberID:     "pn-1",
		WhatsappContactID: contactID,
		MessageID:         eventID,
		MessageType:       messageType,
		Source:            entities.SourceOwnerApp,
		MessageText:       text,
	}
}

func strPtr(s string) *string { return &s }

func ownerClaims(tenantID string) usecases.TokenClaims {
	return usecases.TokenClaims{Sub: "user-1", TenantID: tenantID, Role: entities.RoleOwner, Kind: usecases.TokenKindAccess}
}

func memberClaims(tenantID string) usecases.TokenClaims {
	return usecases.TokenClaims{Sub: "user-2", TenantID: tenantID, Role: "member", Kind: usecases.TokenKindAccess}
}
