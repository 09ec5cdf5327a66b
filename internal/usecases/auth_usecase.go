package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"wabot/internal/entities"
	"wabot/internal/interfaces"
)

const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"

	minPasswordLength = 8
)

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenClaims is the caller identity carried by a verified token.
type TokenClaims struct {
	Sub       string
	TenantID  string
	Role      string
	JTI       string
	Kind      string
	ExpiresAt time.Time
}

func (c TokenClaims) IsOwner() bool {
	return c.Role == entities.RoleOwner
}

type jwtClaims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	JWTSecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	DefaultPrompt string
	BcryptCost    int
}

type AuthDeps struct {
	Tenants       interfaces.TenantStore
	Users         interfaces.UserStore
	AgentProfiles interfaces.AgentProfileStore
	RefreshTokens interfaces.RefreshTokenStore
	Clock         interfaces.Clock
	IDs           interfaces.IDGenerator
}

type AuthUsecase struct {
	deps      AuthDeps
	cfg       AuthConfig
	jwtSecret []byte
}

func NewAuthUsecase(deps AuthDeps, cfg AuthConfig) *AuthUsecase {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &AuthUsecase{
		deps:      deps,
		cfg:       cfg,
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

type RegisterInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TenantName string `json:"tenant_name"`
}

// Register creates a tenant, its owner user and a default agent profile.
func (uc *AuthUsecase) Register(ctx context.Context, in RegisterInput) (*AuthTokens, error) {
	email, err := entities.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLength {
		return nil, entities.Invalidf("password must be at least %d characters", minPasswordLength)
	}
	tenantName := strings.TrimSpace(in.TenantName)
	if tenantName == "" {
		return nil, entities.Invalidf("tenant name is required")
	}

	if _, err := uc.deps.Users.GetByEmail(ctx, email); err == nil {
		slog.WarnContext(ctx, "auth.register.failed", "reason", "email_already_registered", "email_domain", emailDomain(email))
		return nil, fmt.Errorf("%w: email is already registered", entities.ErrConflict)
	} else if !errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), uc.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := uc.deps.Clock.Now()
	tenant := &entities.Tenant{
		ID:        uc.deps.IDs.NewID(),
		Name:      tenantName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.deps.Tenants.Save(ctx, tenant); err != nil {
		return nil, fmt.Errorf("save tenant: %w", err)
	}

	user := &entities.User{
		ID:           uc.deps.IDs.NewID(),
		TenantID:     tenant.ID,
		Email:        email,
		PasswordHash: string(hashed),
		Role:         entities.RoleOwner,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := uc.deps.Users.Create(ctx, user); err != nil {
		if errors.Is(err, entities.ErrConflict) {
			return nil, fmt.Errorf("%w: email is already registered", entities.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	profile, err := entities.NewAgentProfile(tenant.ID, uc.cfg.DefaultPrompt, now)
	if err != nil {
		return nil, err
	}
	if err := uc.deps.AgentProfiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("save agent profile: %w", err)
	}

	tokens, err := uc.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "auth.register.success", "tenant_id", tenant.ID, "user_id", user.ID)
	return tokens, nil
}

func (uc *AuthUsecase) Login(ctx context.Context, email, password string) (*AuthTokens, error) {
	normalized, err := entities.NormalizeEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", entities.ErrUnauthenticated)
	}

	user, err := uc.deps.Users.GetByEmail(ctx, normalized)
	if errors.Is(err, entities.ErrNotFound) {
		slog.WarnContext(ctx, "auth.login.failed", "reason", "invalid_credentials", "email_domain", emailDomain(normalized))
		return nil, fmt.Errorf("%w: invalid credentials", entities.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		slog.WarnContext(ctx, "auth.login.failed", "reason", "inactive_user", "user_id", user.ID)
		return nil, fmt.Errorf("%w: user is inactive", entities.ErrUnauthenticated)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.WarnContext(ctx, "auth.login.failed", "reason", "invalid_credentials", "user_id", user.ID)
		return nil, fmt.Errorf("%w: invalid credentials", entities.ErrUnauthenticated)
	}

	tokens, err := uc.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "auth.login.success", "tenant_id", user.TenantID, "user_id", user.ID)
	return tokens, nil
}

// Refresh rotates a refresh token: the old one is revoked and a new pair issued.
func (uc *AuthUsecase) Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	claims, err := uc.verifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := uc.deps.Users.GetByID(ctx, claims.Sub)
	if errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("%w: user not found", entities.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.TenantID != claims.TenantID {
		slog.WarnContext(ctx, "auth.refresh.failed", "reason", "tenant_mismatch", "user_id", user.ID)
		return nil, fmt.Errorf("%w: token tenant mismatch", entities.ErrUnauthenticated)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user is inactive", entities.ErrUnauthenticated)
	}

	if err := uc.deps.RefreshTokens.Revoke(ctx, claims.JTI, uc.deps.Clock.Now()); err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	tokens, err := uc.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "auth.refresh.success", "tenant_id", user.TenantID, "user_id", user.ID)
	return tokens, nil
}

func (uc *AuthUsecase) Logout(ctx context.Context, refreshToken string) error {
	claims, err := uc.verifyRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	if err := uc.deps.RefreshTokens.Revoke(ctx, claims.JTI, uc.deps.Clock.Now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	slog.InfoContext(ctx, "auth.logout.success", "tenant_id", claims.TenantID, "user_id", claims.Sub)
	return nil
}

// Authenticate verifies an access token.
func (uc *AuthUsecase) Authenticate(accessToken string) (*TokenClaims, error) {
	claims, err := uc.decode(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != TokenKindAccess {
		return nil, fmt.Errorf("%w: token is not an access token", entities.ErrUnauthenticated)
	}
	return claims, nil
}

func (uc *AuthUsecase) verifyRefresh(ctx context.Context, refreshToken string) (*TokenClaims, error) {
	claims, err := uc.decode(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != TokenKindRefresh {
		slog.WarnContext(ctx, "auth.refresh.failed", "reason", "invalid_token_kind", "token_kind", claims.Kind)
		return nil, fmt.Errorf("%w: token is not a refresh token", entities.ErrUnauthenticated)
	}

	record, err := uc.deps.RefreshTokens.Get(ctx, claims.JTI)
	if errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown refresh token", entities.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if !record.Active(uc.deps.Clock.Now()) {
		slog.WarnContext(ctx, "auth.refresh.failed", "reason", "token_revoked", "user_id", claims.Sub)
		return nil, fmt.Errorf("%w: refresh token revoked or expired", entities.ErrUnauthenticated)
	}
	return claims, nil
}

func (uc *AuthUsecase) decode(tokenString string) (*TokenClaims, error) {
	var claims jwtClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return uc.jwtSecret, nil
	}, jwt.WithTimeFunc(uc.deps.Clock.Now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", entities.ErrUnauthenticated)
	}

	out := &TokenClaims{
		Sub:      claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
		JTI:      claims.ID,
		Kind:     claims.Kind,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func (uc *AuthUsecase) issueTokens(ctx context.Context, user *entities.User) (*AuthTokens, error) {
	now := uc.deps.Clock.Now()

	access, err := uc.sign(user, TokenKindAccess, uc.deps.IDs.NewToken(), now, uc.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	refreshJTI := uc.deps.IDs.NewToken()
	refresh, err := uc.sign(user, TokenKindRefresh, refreshJTI, now, uc.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	err = uc.deps.RefreshTokens.Save(ctx, &entities.RefreshToken{
		JTI:       refreshJTI,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		ExpiresAt: now.Add(uc.cfg.RefreshTTL),
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &AuthTokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(uc.cfg.AccessTTL.Seconds()),
	}, nil
}

func (uc *AuthUsecase) sign(user *entities.User, kind, jti string, now time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		TenantID: user.TenantID,
		Role:     user.Role,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}

func requireOwner(claims TokenClaims) error {
	if !claims.IsOwner() {
		return fmt.Errorf("%w: owner role required", entities.ErrForbidden)
	}
	return nil
}
