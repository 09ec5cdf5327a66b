package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"wabot/internal/entities"
	"wabot/internal/usecases"
)

const maxRequestBytes = 2 << 20

type WebhookService interface {
	ProcessPayload(ctx context.Context, raw []byte) (*usecases.ProcessResult, error)
}

// SignatureVerifier checks X-Hub-Signature-256 against the raw body.
type SignatureVerifier interface {
	VerifySignature(body []byte, header string) bool
}

type AuthService interface {
	Authenticator
	Register(ctx context.Context, in usecases.RegisterInput) (*usecases.AuthTokens, error)
	Login(ctx context.Context, email, password string) (*usecases.AuthTokens, error)
	Refresh(ctx context.Context, refreshToken string) (*usecases.AuthTokens, error)
	Logout(ctx context.Context, refreshToken string) error
}

type DashboardService interface {
	GetSystemPrompt(ctx context.Context, claims usecases.TokenClaims) (*entities.AgentProfile, error)
	UpdateSystemPrompt(ctx context.Context, claims usecases.TokenClaims, systemPrompt string) (*entities.AgentProfile, error)
	ListConversations(ctx context.Context, claims usecases.TokenClaims) ([]entities.Conversation, error)
	ListMessages(ctx context.Context, claims usecases.TokenClaims, conversationID string) ([]entities.Message, error)
	UpdateControlMode(ctx context.Context, claims usecases.TokenClaims, conversationID string, mode entities.ControlMode) (*entities.Conversation, error)
}

type BlacklistService interface {
	List(ctx context.Context, claims usecases.TokenClaims) ([]entities.BlacklistEntry, error)
	Add(ctx context.Context, claims usecases.TokenClaims, contactID string) (*entities.BlacklistEntry, error)
	Remove(ctx context.Context, claims usecases.TokenClaims, contactID string) error
}

type OnboardingService interface {
	VerifyWebhook(ctx context.Context, mode, token, challenge string) (string, error)
	DevVerifyToken() (string, error)
	CreateEmbeddedSignupSession(ctx context.Context, claims usecases.TokenClaims) (*usecases.EmbeddedSignupSession, error)
	CompleteEmbeddedSignup(ctx context.Context, claims usecases.TokenClaims, in usecases.CompleteSignupInput) (*usecases.ConnectionStatus, error)
	CompleteEmbeddedSignupByState(ctx context.Context, code, state string) (*usecases.ConnectionStatus, error)
	GetStatus(ctx context.Context, claims usecases.TokenClaims) (*usecases.ConnectionStatus, error)
	Disconnect(ctx context.Context, claims usecases.TokenClaims) (*usecases.ConnectionStatus, error)
}

type Services struct {
	Webhook    WebhookService
	Signatures SignatureVerifier
	Auth       AuthService
	Dashboard  DashboardService
	Blacklist  BlacklistService
	Onboarding OnboardingService
}

type RouterConfig struct {
	ServiceName     string
	TracingEnabled  bool
	ExposeDevRoutes bool
}

type Handler struct {
	svc Services
}

func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

func SetupRoutes(r *gin.Engine, svc Services, middleware *Middleware, cfg RouterConfig) {
	h := NewHandler(svc)

	if cfg.TracingEnabled {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger())
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(maxRequestBytes))
	r.Use(middleware.CORSMiddleware())
	r.SetHTMLTemplate(oauthPages)

	r.GET("/health", h.Health)
	r.GET("/oauth/meta/callback", h.MetaOAuthCallback)

	v1 := r.Group("/v1")

	webhooks := v1.Group("/webhooks")
	{
		webhooks.GET("/whatsapp", h.VerifyWebhook)
		webhooks.POST("/whatsapp", h.ReceiveWebhook)
	}

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", h.Logout)
	}

	api := v1.Group("")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerTenant())
	{
		api.GET("/agent/system-prompt", h.GetSystemPrompt)
		api.PUT("/agent/system-prompt", h.UpdateSystemPrompt)

		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id/messages", h.ListMessages)

		api.GET("/whatsapp/connection", h.GetConnection)
		if cfg.ExposeDevRoutes {
			api.GET("/whatsapp/dev/verify-token", h.DevVerifyToken)
		}
	}

	owner := v1.Group("")
	owner.Use(middleware.AuthRequired())
	owner.Use(middleware.RateLimitPerTenant())
	owner.Use(middleware.OwnerRequired())
	{
		owner.PUT("/conversations/:id/control-mode", h.UpdateControlMode)

		owner.GET("/blacklist", h.ListBlacklist)
		owner.POST("/blacklist", h.AddBlacklist)
		owner.DELETE("/blacklist/:contact", h.RemoveBlacklist)

		owner.POST("/whatsapp/embedded-signup/session", h.CreateSignupSession)
		owner.POST("/whatsapp/embedded-signup/complete", h.CompleteSignup)
		owner.DELETE("/whatsapp/connection", h.Disconnect)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// VerifyWebhook answers Meta's subscription handshake with the raw challenge.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	challenge, err := h.svc.Onboarding.VerifyWebhook(c.Request.Context(),
		c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.String(http.StatusOK, challenge)
}

// ReceiveWebhook processes a delivery synchronously. A non-2xx answer makes
// Meta redeliver, which is how failed events are retried.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if !h.svc.Signatures.VerifySignature(body, c.GetHeader("X-Hub-Signature-256")) {
		slog.WarnContext(ctx, "webhook.signature_invalid", "body_bytes", len(body))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	result, err := h.svc.Webhook.ProcessPayload(ctx, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
