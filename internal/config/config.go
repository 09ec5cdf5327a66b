package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultSystemPrompt = "You are a helpful WhatsApp customer support agent."
	DefaultOwnerRole    = "owner"
)

type Config struct {
	OTel      OTelConfig
	Auth      AuthConfig
	Meta      MetaConfig
	LLM       LLMConfig
	DB        DBConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Agent     AgentConfig

	Env                string
	Port               string
	StoreBackend       string
	CORSAllowedOrigins []string
	FrontendBaseURL    string
	SnowflakeNodeID    int64
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type AuthConfig struct {
	JWTSecret         string
	AccessTTLSeconds  int
	RefreshTTLSeconds int
}

type MetaConfig struct {
	AppID              string
	AppSecret          string
	RedirectURI        string
	WebhookVerifyToken string
	APIVersion         string
	GraphBaseURL       string
	RequestTimeoutSec  int
}

type LLMConfig struct {
	Provider       string // "anthropic" or "openai"
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	TimeoutSeconds int
}

type DBConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

type RedisConfig struct {
	URL                   string
	ProcessedEventTTLHour int
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type AgentConfig struct {
	DefaultSystemPrompt string
	ContextMessageLimit int
}

// Load reads configuration from the environment. In development a local .env
// file is loaded first when present.
func Load() (Config, error) {
	if getEnv("APP_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	provider := strings.ToLower(getEnv("LLM_PROVIDER", "anthropic"))

	cfg := Config{
		Env:                getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		FrontendBaseURL:    getEnv("FRONTEND_APP_BASE_URL", "http://localhost:3000"),
		SnowflakeNodeID:    int64(getEnvInt("SNOWFLAKE_NODE_ID", 1)),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "wabot"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", "dev-jwt-secret-change-me"),
			AccessTTLSeconds:  getEnvInt("JWT_ACCESS_TTL_SECONDS", 1800),
			RefreshTTLSeconds: getEnvInt("JWT_REFRESH_TTL_SECONDS", 2592000),
		},
		Meta: MetaConfig{
			AppID:              getEnv("META_APP_ID", ""),
			AppSecret:          getEnv("META_APP_SECRET", ""),
			RedirectURI:        getEnv("META_REDIRECT_URI", "http://localhost:8080/oauth/meta/callback"),
			WebhookVerifyToken: getEnv("META_WEBHOOK_VERIFY_TOKEN", "dev-meta-webhook-verify-token"),
			APIVersion:         getEnv("META_API_VERSION", "v23.0"),
			GraphBaseURL:       getEnv("META_GRAPH_BASE_URL", "https://graph.facebook.com"),
			RequestTimeoutSec:  getEnvInt("META_REQUEST_TIMEOUT_SECONDS", 15),
		},
		LLM: loadLLM(provider),
		DB: DBConfig{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			URL:                   getEnv("REDIS_URL", ""),
			ProcessedEventTTLHour: getEnvInt("PROCESSED_EVENT_TTL_HOURS", 720),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Agent: AgentConfig{
			DefaultSystemPrompt: getEnv("DEFAULT_SYSTEM_PROMPT", DefaultSystemPrompt),
			ContextMessageLimit: getEnvInt("CONTEXT_MESSAGE_LIMIT", 12),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadLLM(provider string) LLMConfig {
	cfg := LLMConfig{
		Provider:       provider,
		TimeoutSeconds: getEnvInt("LLM_TIMEOUT_SECONDS", 30),
	}
	switch provider {
	case "openai":
		cfg.APIKey = getEnv("OPENAI_API_KEY", "")
		cfg.BaseURL = getEnv("OPENAI_BASE_URL", "")
		cfg.Model = getEnv("OPENAI_MODEL", "gpt-4o-mini")
		cfg.MaxTokens = getEnvInt("OPENAI_MAX_TOKENS", 512)
	default:
		cfg.APIKey = getEnv("ANTHROPIC_API_KEY", "")
		cfg.BaseURL = getEnv("ANTHROPIC_BASE_URL", "")
		cfg.Model = getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514")
		cfg.MaxTokens = getEnvInt("ANTHROPIC_MAX_TOKENS", 512)
	}
	return cfg
}

func (c Config) Validate() error {
	if c.IsProduction() && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-jwt-secret-change-me") {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.Agent.ContextMessageLimit <= 0 {
		return fmt.Errorf("CONTEXT_MESSAGE_LIMIT must be positive, got %d", c.Agent.ContextMessageLimit)
	}
	switch c.StoreBackend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.LLM.Provider != "anthropic" && c.LLM.Provider != "openai" {
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func (c MetaConfig) SignatureCheckEnabled() bool {
	return c.AppSecret != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
