package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"wabot/internal/config"
	"wabot/internal/infrastructure"
	"wabot/internal/interfaces"
	apphttp "wabot/internal/interfaces/http"
	"wabot/internal/logger"
	"wabot/internal/repository"
	"wabot/internal/telemetry"
	"wabot/internal/usecases"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel before logger: the production logger exports through the OTel provider.
	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if tel != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}
	slog.InfoContext(ctx, "wabot starting", "env", cfg.Env, "store", cfg.StoreBackend, "llm", cfg.LLM.Provider)

	stores, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize stores", "error", err)
		os.Exit(1)
	}
	defer closeStores()

	ids, err := infrastructure.NewSnowflakeIDGenerator(cfg.SnowflakeNodeID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}
	clock := infrastructure.SystemClock{}

	whatsapp := infrastructure.NewWhatsAppCloudClient(infrastructure.WhatsAppCloudConfig{
		GraphBaseURL: cfg.Meta.GraphBaseURL,
		APIVersion:   cfg.Meta.APIVersion,
		AppID:        cfg.Meta.AppID,
		AppSecret:    cfg.Meta.AppSecret,
		RedirectURI:  cfg.Meta.RedirectURI,
		Timeout:      time.Duration(cfg.Meta.RequestTimeoutSec) * time.Second,
	})
	if !cfg.Meta.SignatureCheckEnabled() {
		slog.WarnContext(ctx, "META_APP_SECRET not set, webhook signatures are not verified")
	}

	llm, err := buildLLM(cfg.LLM)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize llm provider", "error", err, "provider", cfg.LLM.Provider)
		os.Exit(1)
	}

	sessions := infrastructure.NewSessionManager()
	limiter := infrastructure.NewTenantRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	defer limiter.Stop()

	processor := usecases.NewWebhookProcessor(usecases.WebhookProcessorDeps{
		Connections:     stores.Connections,
		Conversations:   stores.Conversations,
		ProcessedEvents: stores.ProcessedEvents,
		Blacklist:       stores.Blacklist,
		AgentProfiles:   stores.AgentProfiles,
		Messaging:       whatsapp,
		LLM:             llm,
		Locker:          sessions,
		Clock:           clock,
		IDs:             ids,
	}, usecases.WebhookProcessorConfig{
		DefaultSystemPrompt: cfg.Agent.DefaultSystemPrompt,
		ContextMessageLimit: cfg.Agent.ContextMessageLimit,
	})

	auth := usecases.NewAuthUsecase(usecases.AuthDeps{
		Tenants:       stores.Tenants,
		Users:         stores.Users,
		AgentProfiles: stores.AgentProfiles,
		RefreshTokens: stores.RefreshTokens,
		Clock:         clock,
		IDs:           ids,
	}, usecases.AuthConfig{
		JWTSecret:     cfg.Auth.JWTSecret,
		AccessTTL:     time.Duration(cfg.Auth.AccessTTLSeconds) * time.Second,
		RefreshTTL:    time.Duration(cfg.Auth.RefreshTTLSeconds) * time.Second,
		DefaultPrompt: cfg.Agent.DefaultSystemPrompt,
		BcryptCost:    bcrypt.DefaultCost,
	})

	services := apphttp.Services{
		Webhook:    processor,
		Signatures: whatsapp,
		Auth:       auth,
		Dashboard:  usecases.NewDashboardUsecase(stores.Conversations, stores.AgentProfiles, sessions, clock, cfg.Agent.DefaultSystemPrompt),
		Blacklist:  usecases.NewBlacklistUsecase(stores.Blacklist, clock),
		Onboarding: usecases.NewOnboardingUsecase(stores.Connections, whatsapp, clock, ids, cfg.Meta.WebhookVerifyToken),
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	apphttp.SetupRoutes(router, services, apphttp.NewMiddleware(auth, limiter, cfg.CORSAllowedOrigins), apphttp.RouterConfig{
		ServiceName:     cfg.OTel.ServiceName,
		TracingEnabled:  cfg.OTel.Enabled(),
		ExposeDevRoutes: !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}

	slog.InfoContext(shutdownCtx, "shutdown complete", "active_sessions", sessions.ActiveSessions())
}

// buildStores picks the persistence backend. Redis, when configured, takes
// over processed-event markers from either backend.
func buildStores(ctx context.Context, cfg config.Config) (repository.Stores, func(), error) {
	var (
		stores  repository.Stores
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreBackend {
	case "postgres":
		pg, err := infrastructure.NewPostgresClient(ctx, cfg.DB)
		if err != nil {
			return stores, closeAll, err
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return stores, func() {}, err
		}
		stores = repository.NewPostgresStores(pg.Pool)
		slog.InfoContext(ctx, "database connected")
	default:
		stores = repository.NewMemoryStores()
		slog.InfoContext(ctx, "using in-memory stores")
	}

	if cfg.Redis.Enabled() {
		client, err := repository.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			closeAll()
			return stores, func() {}, err
		}
		closers = append(closers, func() { _ = client.Close() })
		ttl := time.Duration(cfg.Redis.ProcessedEventTTLHour) * time.Hour
		stores.ProcessedEvents = repository.NewRedisProcessedEventStore(client, ttl)
		slog.InfoContext(ctx, "redis connected", "processed_event_ttl", ttl.String())
	}

	return stores, closeAll, nil
}

func buildLLM(cfg config.LLMConfig) (interfaces.LLMProvider, error) {
	clientCfg := infrastructure.LLMClientConfig{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if cfg.Provider == "openai" {
		client, err := infrastructure.NewOpenAIClient(clientCfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	client, err := infrastructure.NewAnthropicClient(clientCfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}
