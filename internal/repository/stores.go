package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"wabot/internal/interfaces"
)

// Stores bundles every persistence port the application needs.
type Stores struct {
	Connections     interfaces.ConnectionStore
	Conversations   interfaces.ConversationStore
	ProcessedEvents interfaces.ProcessedEventStore
	Blacklist       interfaces.BlacklistStore
	AgentProfiles   interfaces.AgentProfileStore
	Tenants         interfaces.TenantStore
	Users           interfaces.UserStore
	RefreshTokens   interfaces.RefreshTokenStore
}

func NewMemoryStores() Stores {
	return Stores{
		Connections:     NewMemoryConnectionStore(),
		Conversations:   NewMemoryConversationStore(),
		ProcessedEvents: NewMemoryProcessedEventStore(),
		Blacklist:       NewMemoryBlacklistStore(),
		AgentProfiles:   NewMemoryAgentProfileStore(),
		Tenants:         NewMemoryTenantStore(),
		Users:           NewMemoryUserStore(),
		RefreshTokens:   NewMemoryRefreshTokenStore(),
	}
}

func NewPostgresStores(db *pgxpool.Pool) Stores {
	return Stores{
		Connections:     NewConnectionRepository(db),
		Conversations:   NewConversationRepository(db),
		ProcessedEvents: NewProcessedEventRepository(db),
		Blacklist:       NewBlacklistRepository(db),
		AgentProfiles:   NewAgentProfileRepository(db),
		Tenants:         NewTenantRepository(db),
		Users:           NewUserRepository(db),
		RefreshTokens:   NewRefreshTokenRepository(db),
	}
}
