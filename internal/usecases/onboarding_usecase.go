package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wabot/internal/entities"
	"wabot/internal/interfaces"
)

const mockCodePrefix = "mock::"

// SignupURLBuilder produces the Meta dialog URL a tenant is sent to.
type SignupURLBuilder interface {
	BuildEmbeddedSignupURL(state string) string
}

type EmbeddedSignupSession struct {
	State      string `json:"state"`
	ConnectURL string `json:"connect_url"`
}

// CompleteSignupInput carries either a mock code
// (mock::phone_number_id::business_account_id::access_token) or the
// credentials themselves.
type CompleteSignupInput struct {
	State             string `json:"state"`
	Code              string `json:"code"`
	PhoneNumberID     string `json:"phone_number_id"`
	BusinessAccountID string `json:"business_account_id"`
	AccessToken       string `json:"access_token"`
}

type ConnectionStatus struct {
	TenantID          string                    `json:"tenant_id"`
	Status            entities.ConnectionStatus `json:"status"`
	PhoneNumberID     *string                   `json:"phone_number_id"`
	BusinessAccountID *string                   `json:"business_account_id"`
}

type OnboardingUsecase struct {
	connections interfaces.ConnectionStore
	signup      SignupURLBuilder
	clock       interfaces.Clock
	ids         interfaces.IDGenerator
	verifyToken string
}

func NewOnboardingUsecase(connections interfaces.ConnectionStore, signup SignupURLBuilder, clock interfaces.Clock, ids interfaces.IDGenerator, verifyToken string) *OnboardingUsecase {
	return &OnboardingUsecase{
		connections: connections,
		signup:      signup,
		clock:       clock,
		ids:         ids,
		verifyToken: verifyToken,
	}
}

// VerifyWebhook answers Meta's hub.challenge handshake.
func (u *OnboardingUsecase) VerifyWebhook(ctx context.Context, mode, token, challenge string) (string, error) {
	if mode != "subscribe" {
		slog.WarnContext(ctx, "whatsapp.webhook.verify.failed", "reason", "invalid_mode")
		return "", fmt.Errorf("%w: invalid webhook mode", entities.ErrUnauthenticated)
	}
	if u.verifyToken == "" {
		slog.WarnContext(ctx, "whatsapp.webhook.verify.failed", "reason", "missing_verify_token")
		return "", fmt.Errorf("%w: META_WEBHOOK_VERIFY_TOKEN is not configured", entities.ErrInvalidState)
	}
	if token != u.verifyToken {
		slog.WarnContext(ctx, "whatsapp.webhook.verify.failed", "reason", "invalid_verify_token")
		return "", fmt.Errorf("%w: invalid verify token", entities.ErrUnauthenticated)
	}
	slog.InfoContext(ctx, "whatsapp.webhook.verify.succeeded")
	return challenge, nil
}

// DevVerifyToken exposes the configured verify token outside production.
func (u *OnboardingUsecase) DevVerifyToken() (string, error) {
	if u.verifyToken == "" {
		return "", fmt.Errorf("%w: META_WEBHOOK_VERIFY_TOKEN is not configured", entities.ErrInvalidState)
	}
	return u.verifyToken, nil
}

// CreateEmbeddedSignupSession moves the tenant's connection to PENDING with a
// fresh state token. Existing credentials are kept until completion.
func (u *OnboardingUsecase) CreateEmbeddedSignupSession(ctx context.Context, claims TokenClaims) (*EmbeddedSignupSession, error) {
	if err := requireOwner(claims); err != nil {
		return nil, err
	}

	existing, err := u.connections.GetByTenantID(ctx, claims.TenantID)
	if err != nil && !errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("load connection: %w", err)
	}

	state := u.ids.NewToken()
	conn := &entities.WhatsappConnection{
		TenantID:            claims.TenantID,
		Status:              entities.ConnectionPending,
		EmbeddedSignupState: &state,
		UpdatedAt:           u.clock.Now(),
	}
	if existing != nil {
		conn.PhoneNumberID = existing.PhoneNumberID
		conn.BusinessAccountID = existing.BusinessAccountID
		conn.AccessToken = existing.AccessToken
	}
	if err := u.connections.Save(ctx, conn); err != nil {
		return nil, fmt.Errorf("save connection: %w", err)
	}

	slog.InfoContext(ctx, "whatsapp.onboarding.session_created",
		"tenant_id", claims.TenantID,
		"has_existing_connection", existing != nil)
	return &EmbeddedSignupSession{State: state, ConnectURL: u.signup.BuildEmbeddedSignupURL(state)}, nil
}

func (u *OnboardingUsecase) CompleteEmbeddedSignup(ctx context.Context, claims TokenClaims, in CompleteSignupInput) (*ConnectionStatus, error) {
	if err := requireOwner(claims); err != nil {
		return nil, err
	}

	conn, err := u.connections.GetByTenantID(ctx, claims.TenantID)
	if errors.Is(err, entities.ErrNotFound) {
		slog.WarnContext(ctx, "whatsapp.onboarding.failed", "tenant_id", claims.TenantID, "reason", "session_not_found")
		return nil, fmt.Errorf("%w: embedded signup session not found", entities.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn.EmbeddedSignupState == nil || *conn.EmbeddedSignupState != in.State {
		slog.WarnContext(ctx, "whatsapp.onboarding.failed", "tenant_id", claims.TenantID, "reason", "state_mismatch")
		return nil, fmt.Errorf("%w: embedded signup state mismatch", entities.ErrInvalidState)
	}

	phoneNumberID, businessAccountID, accessToken, err := resolveCredentials(in)
	if err != nil {
		return nil, err
	}
	return u.finalizeConnection(ctx, conn, phoneNumberID, businessAccountID, accessToken)
}

// CompleteEmbeddedSignupByState finishes signup from Meta's OAuth redirect,
// which carries no session. The state token identifies the tenant.
func (u *OnboardingUsecase) CompleteEmbeddedSignupByState(ctx context.Context, code, state string) (*ConnectionStatus, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return nil, entities.Invalidf("state is required")
	}
	if strings.TrimSpace(code) == "" {
		return nil, entities.Invalidf("code is required")
	}

	conn, err := u.connections.GetByEmbeddedSignupState(ctx, state)
	if errors.Is(err, entities.ErrNotFound) {
		slog.WarnContext(ctx, "whatsapp.onboarding.failed", "reason", "state_not_found")
		return nil, fmt.Errorf("%w: embedded signup state not found", entities.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load connection by state: %w", err)
	}

	phoneNumberID, businessAccountID, accessToken, err := resolveCredentials(CompleteSignupInput{State: state, Code: code})
	if err != nil {
		return nil, err
	}
	return u.finalizeConnection(ctx, conn, phoneNumberID, businessAccountID, accessToken)
}

// finalizeConnection stores the credentials as CONNECTED and clears the
// signup state. A phone number already connected to another tenant is
// rejected so inbound events keep a single owner.
func (u *OnboardingUsecase) finalizeConnection(ctx context.Context, conn *entities.WhatsappConnection, phoneNumberID, businessAccountID, accessToken string) (*ConnectionStatus, error) {
	other, err := u.connections.GetByPhoneNumberID(ctx, phoneNumberID)
	if err != nil && !errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("lookup connection by phone number: %w", err)
	}
	if other != nil && other.TenantID != conn.TenantID {
		slog.WarnContext(ctx, "whatsapp.onboarding.failed",
			"tenant_id", conn.TenantID,
			"reason", "phone_number_taken")
		return nil, fmt.Errorf("%w: phone number %s is connected to another tenant", entities.ErrConflict, phoneNumberID)
	}

	updated := &entities.WhatsappConnection{
		TenantID:          conn.TenantID,
		PhoneNumberID:     &phoneNumberID,
		BusinessAccountID: &businessAccountID,
		AccessToken:       &accessToken,
		Status:            entities.ConnectionConnected,
		UpdatedAt:         u.clock.Now(),
	}
	if err := u.connections.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("save connection: %w", err)
	}

	slog.InfoContext(ctx, "whatsapp.onboarding.completed",
		"tenant_id", updated.TenantID,
		"status", updated.Status)
	return statusOf(updated), nil
}

// GetStatus reports DISCONNECTED for tenants that never started onboarding.
func (u *OnboardingUsecase) GetStatus(ctx context.Context, claims TokenClaims) (*ConnectionStatus, error) {
	conn, err := u.connections.GetByTenantID(ctx, claims.TenantID)
	if errors.Is(err, entities.ErrNotFound) {
		return &ConnectionStatus{TenantID: claims.TenantID, Status: entities.ConnectionDisconnected}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	return statusOf(conn), nil
}

// Disconnect drops stored credentials. Inbound events for the number no
// longer map to the tenant and are skipped.
func (u *OnboardingUsecase) Disconnect(ctx context.Context, claims TokenClaims) (*ConnectionStatus, error) {
	if err := requireOwner(claims); err != nil {
		return nil, err
	}
	conn, err := u.connections.GetByTenantID(ctx, claims.TenantID)
	if errors.Is(err, entities.ErrNotFound) {
		return &ConnectionStatus{TenantID: claims.TenantID, Status: entities.ConnectionDisconnected}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}

	cleared := &entities.WhatsappConnection{
		TenantID:  conn.TenantID,
		Status:    entities.ConnectionDisconnected,
		UpdatedAt: u.clock.Now(),
	}
	if err := u.connections.Save(ctx, cleared); err != nil {
		return nil, fmt.Errorf("save connection: %w", err)
	}
	slog.InfoContext(ctx, "whatsapp.onboarding.disconnected", "tenant_id", conn.TenantID)
	return statusOf(cleared), nil
}

func resolveCredentials(in CompleteSignupInput) (phoneNumberID, businessAccountID, accessToken string, err error) {
	if code := strings.TrimSpace(in.Code); code != "" {
		if !strings.HasPrefix(code, mockCodePrefix) {
			return "", "", "", entities.Invalidf("authorization code exchange is not supported; supply credentials directly")
		}
		parts := strings.Split(strings.TrimPrefix(code, mockCodePrefix), "::")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return "", "", "", entities.Invalidf("mock code must be mock::phone_number_id::business_account_id::access_token")
		}
		return parts[0], parts[1], parts[2], nil
	}

	phoneNumberID = strings.TrimSpace(in.PhoneNumberID)
	businessAccountID = strings.TrimSpace(in.BusinessAccountID)
	accessToken = strings.TrimSpace(in.AccessToken)
	if phoneNumberID == "" || businessAccountID == "" || accessToken == "" {
		return "", "", "", entities.Invalidf("phone_number_id, business_account_id and access_token are required")
	}
	return phoneNumberID, businessAccountID, accessToken, nil
}

func statusOf(conn *entities.WhatsappConnection) *ConnectionStatus {
	return &ConnectionStatus{
		TenantID:          conn.TenantID,
		Status:            conn.Status,
		PhoneNumberID:     conn.PhoneNumberID,
		BusinessAccountID: conn.BusinessAccountID,
	}
}
