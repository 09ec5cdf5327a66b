package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"wabot/internal/entities"
)

// In-memory stores. Each is safe for concurrent use and copies values in and
// out so callers never share state with the store.

type tenantKey struct {
	tenantID string
	id       string
}

// MemoryConnectionStore indexes connections by phone number id and signup
// state. A phone number maps to the tenant that saved it last.
type MemoryConnectionStore struct {
	mu       sync.RWMutex
	byTenant map[string]entities.WhatsappConnection
	byPhone  map[string]string // phone_number_id -> tenant id
	byState  map[string]string // embedded_signup_state -> tenant id
}

func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{
		byTenant: make(map[string]entities.WhatsappConnection),
		byPhone:  make(map[string]string),
		byState:  make(map[string]string),
	}
}

func (s *MemoryConnectionStore) GetByPhoneNumberID(_ context.Context, phoneNumberID string) (*entities.WhatsappConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byPhone, phoneNumberID)
}

func (s *MemoryConnectionStore) GetByEmbeddedSignupState(_ context.Context, state string) (*entities.WhatsappConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byState, state)
}

func (s *MemoryConnectionStore) lookup(index map[string]string, key string) (*entities.WhatsappConnection, error) {
	tenantID, ok := index[key]
	if !ok {
		return nil, entities.ErrNotFound
	}
	c, ok := s.byTenant[tenantID]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &c, nil
}

func (s *MemoryConnectionStore) GetByTenantID(_ context.Context, tenantID string) (*entities.WhatsappConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byTenant[tenantID]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &c, nil
}

func (s *MemoryConnectionStore) Save(_ context.Context, conn *entities.WhatsappConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byTenant[conn.TenantID]; ok {
		// Only drop index entries this tenant still owns; another tenant may
		// have taken the phone number since.
		if prev.PhoneNumberID != nil && s.byPhone[*prev.PhoneNumberID] == conn.TenantID {
			delete(s.byPhone, *prev.PhoneNumberID)
		}
		if prev.EmbeddedSignupState != nil && s.byState[*prev.EmbeddedSignupState] == conn.TenantID {
			delete(s.byState, *prev.EmbeddedSignupState)
		}
	}

	stored := *conn
	stored.PhoneNumberID = copyString(conn.PhoneNumberID)
	stored.BusinessAccountID = copyString(conn.BusinessAccountID)
	stored.AccessToken = copyString(conn.AccessToken)
	stored.EmbeddedSignupState = copyString(conn.EmbeddedSignupState)
	s.byTenant[conn.TenantID] = stored

	if stored.PhoneNumberID != nil {
		s.byPhone[*stored.PhoneNumberID] = conn.TenantID
	}
	if stored.EmbeddedSignupState != nil {
		s.byState[*stored.EmbeddedSignupState] = conn.TenantID
	}
	return nil
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type MemoryConversationStore struct {
	mu            sync.RWMutex
	users         map[tenantKey]entities.WhatsappUser
	conversations map[string]*entities.Conversation // by conversation id
	byContact     map[tenantKey]string              // (tenant, contact) -> conversation id
	messages      map[string][]entities.Message     // by conversation id, insertion order
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		users:         make(map[tenantKey]entities.WhatsappUser),
		conversations: make(map[string]*entities.Conversation),
		byContact:     make(map[tenantKey]string),
		messages:      make(map[string][]entities.Message),
	}
}

func (s *MemoryConversationStore) GetWhatsappUser(_ context.Context, tenantID, contactID string) (*entities.WhatsappUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[tenantKey{tenantID, contactID}]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &u, nil
}

func (s *MemoryConversationStore) SaveWhatsappUser(_ context.Context, user *entities.WhatsappUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[tenantKey{user.TenantID, user.ID}] = *user
	return nil
}

func (s *MemoryConversationStore) GetConversationByContact(_ context.Context, tenantID, contactID string) (*entities.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byContact[tenantKey{tenantID, contactID}]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return s.conversations[id].Clone(), nil
}

func (s *MemoryConversationStore) GetConversationByID(_ context.Context, tenantID, conversationID string) (*entities.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.TenantID != tenantID {
		return nil, entities.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryConversationStore) ListConversations(_ context.Context, tenantID string) ([]entities.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entities.Conversation{}
	for _, c := range s.conversations {
		if c.TenantID == tenantID {
			out = append(out, *c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// SaveConversation upserts by id. A second conversation for the same
// (tenant, contact) is rejected with ErrConflict.
func (s *MemoryConversationStore) SaveConversation(_ context.Context, conv *entities.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantKey{conv.TenantID, conv.WhatsappUserID}
	if existing, ok := s.byContact[key]; ok && existing != conv.ID {
		return entities.ErrConflict
	}
	s.conversations[conv.ID] = conv.Clone()
	s.byContact[key] = conv.ID
	return nil
}

func (s *MemoryConversationStore) SaveMessage(_ context.Context, msg *entities.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *MemoryConversationStore) ListMessages(_ context.Context, tenantID, conversationID string) ([]entities.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entities.Message{}
	for _, m := range s.messages[conversationID] {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type MemoryProcessedEventStore struct {
	mu     sync.RWMutex
	events map[tenantKey]entities.ProcessedWebhookEvent
}

func NewMemoryProcessedEventStore() *MemoryProcessedEventStore {
	return &MemoryProcessedEventStore{events: make(map[tenantKey]entities.ProcessedWebhookEvent)}
}

func (s *MemoryProcessedEventStore) Exists(_ context.Context, tenantID, providerEventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[tenantKey{tenantID, providerEventID}]
	return ok, nil
}

// Mark is write-once; marking an already processed event keeps the first record.
func (s *MemoryProcessedEventStore) Mark(_ context.Context, event *entities.ProcessedWebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantKey{event.TenantID, event.ProviderEventID}
	if _, ok := s.events[key]; !ok {
		s.events[key] = *event
	}
	return nil
}

type MemoryBlacklistStore struct {
	mu      sync.RWMutex
	entries map[tenantKey]entities.BlacklistEntry
}

func NewMemoryBlacklistStore() *MemoryBlacklistStore {
	return &MemoryBlacklistStore{entries: make(map[tenantKey]entities.BlacklistEntry)}
}

func (s *MemoryBlacklistStore) Exists(_ context.Context, tenantID, contactID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[tenantKey{tenantID, contactID}]
	return ok, nil
}

func (s *MemoryBlacklistStore) List(_ context.Context, tenantID string) ([]entities.BlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entities.BlacklistEntry{}
	for k, e := range s.entries {
		if k.tenantID == tenantID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].WhatsappUserID < out[j].WhatsappUserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryBlacklistStore) Save(_ context.Context, entry *entities.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tenantKey{entry.TenantID, entry.WhatsappUserID}] = *entry
	return nil
}

func (s *MemoryBlacklistStore) Delete(_ context.Context, tenantID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantKey{tenantID, contactID}
	if _, ok := s.entries[key]; !ok {
		return entities.ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

type MemoryAgentProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]entities.AgentProfile
}

func NewMemoryAgentProfileStore() *MemoryAgentProfileStore {
	return &MemoryAgentProfileStore{profiles: make(map[string]entities.AgentProfile)}
}

func (s *MemoryAgentProfileStore) GetByTenantID(_ context.Context, tenantID string) (*entities.AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[tenantID]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &p, nil
}

func (s *MemoryAgentProfileStore) Save(_ context.Context, profile *entities.AgentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.TenantID] = *profile
	return nil
}

type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]entities.Tenant
}

func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{tenants: make(map[string]entities.Tenant)}
}

func (s *MemoryTenantStore) GetByID(_ context.Context, id string) (*entities.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &t, nil
}

func (s *MemoryTenantStore) Save(_ context.Context, tenant *entities.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = *tenant
	return nil
}

type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]entities.User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]entities.User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) GetByID(_ context.Context, id string) (*entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, entities.ErrNotFound
	}
	u := s.byID[id]
	return &u, nil
}

func (s *MemoryUserStore) Create(_ context.Context, user *entities.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[user.Email]; taken {
		return entities.ErrConflict
	}
	s.byID[user.ID] = *user
	s.byEmail[user.Email] = user.ID
	return nil
}

type MemoryRefreshTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]entities.RefreshToken
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{tokens: make(map[string]entities.RefreshToken)}
}

func (s *MemoryRefreshTokenStore) Get(_ context.Context, jti string) (*entities.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[jti]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return &t, nil
}

func (s *MemoryRefreshTokenStore) Save(_ context.Context, token *entities.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.JTI] = *token
	return nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, jti string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[jti]
	if !ok {
		return entities.ErrNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		s.tokens[jti] = t
	}
	return nil
}
