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

// BlacklistUsecase manages contacts whose messages are dropped before any
// history is recorded. Owner only.
type BlacklistUsecase struct {
	blacklist interfaces.BlacklistStore
	clock     interfaces.Clock
}

func NewBlacklistUsecase(blacklist interfaces.BlacklistStore, clock interfaces.Clock) *BlacklistUsecase {
	return &BlacklistUsecase{blacklist: blacklist, clock: clock}
}

func (u *BlacklistUsecase) List(ctx context.Context, claims TokenClaims) ([]entities.BlacklistEntry, error) {
	if err := requireOwner(claims); err != nil {
		return nil, err
	}
	entries, err := u.blacklist.List(ctx, claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	return entries, nil
}

// Add is idempotent: re-adding a contact returns the stored entry.
func (u *BlacklistUsecase) Add(ctx context.Context, claims TokenClaims, contactID string) (*entities.BlacklistEntry, error) {
	if err := requireOwner(claims); err != nil {
		return nil, err
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, entities.Invalidf("whatsapp_user_id is required")
	}

	exists, err := u.blacklist.Exists(ctx, claims.TenantID, contactID)
	if err != nil {
		return nil, fmt.Errorf("check blacklist: %w", err)
	}
	if exists {
		entries, err := u.blacklist.List(ctx, claims.TenantID)
		if err != nil {
			return nil, fmt.Errorf("list blacklist: %w", err)
		}
		for i := range entries {
			if entries[i].WhatsappUserID == contactID {
				return &entries[i], nil
			}
		}
	}

	entry := &entities.BlacklistEntry{
		TenantID:       claims.TenantID,
		WhatsappUserID: contactID,
		CreatedAt:      u.clock.Now(),
	}
	if err := u.blacklist.Save(ctx, entry); err != nil {
		return nil, fmt.Errorf("save blacklist entry: %w", err)
	}
	slog.InfoContext(ctx, "blacklist.added", "tenant_id", claims.TenantID, "whatsapp_user_id", contactID)
	return entry, nil
}

func (u *BlacklistUsecase) Remove(ctx context.Context, claims TokenClaims, contactID string) error {
	if err := requireOwner(claims); err != nil {
		return err
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return entities.Invalidf("whatsapp_user_id is required")
	}
	if err := u.blacklist.Delete(ctx, claims.TenantID, contactID); err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return fmt.Errorf("%w: blacklist entry not found", entities.ErrNotFound)
		}
		return fmt.Errorf("delete blacklist entry: %w", err)
	}
	slog.InfoContext(ctx, "blacklist.removed", "tenant_id", claims.TenantID, "whatsapp_user_id", contactID)
	return nil
}
