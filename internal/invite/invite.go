// Package invite issues single-use access grants to the target group.
package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/gatekeeper/internal/storage"
	"github.com/kalambet/gatekeeper/internal/transport"
)

// ErrInsufficientPrivilege is returned when the bot lacks invite-link
// management rights in the target group. Callers fall back to the group's
// permanent link where one exists.
var ErrInsufficientPrivilege = errors.New("insufficient privilege to manage invite links")

// LinkAPI is the transport surface the granter needs.
type LinkAPI interface {
	CreateInviteLink(ctx context.Context, chatID int64) (*transport.InviteLink, error)
	RevokeInviteLink(ctx context.Context, chatID int64, link string) error
}

// Store persists the user's recorded links.
type Store interface {
	UpdateUser(u *storage.User) error
}

// Granter mints fresh single-use invite links for approved users and keeps
// at most one valid link per user: every grant revokes all previously
// recorded links first, so re-approving a user cannot leave stale grants
// usable.
type Granter struct {
	api    LinkAPI
	store  Store
	chatID int64
	logger *slog.Logger
}

// NewGranter creates a Granter issuing links for the given target chat.
func NewGranter(api LinkAPI, store Store, chatID int64) *Granter {
	return &Granter{
		api:    api,
		store:  store,
		chatID: chatID,
		logger: slog.Default(),
	}
}

// Grant revokes every link previously recorded for the user, creates one
// fresh single-use link, persists it as the user's only link, and returns
// it. Revocations the platform rejects (already revoked, link unknown) are
// tolerated; anything else aborts the grant.
func (g *Granter) Grant(ctx context.Context, u *storage.User) (string, error) {
	for _, link := range u.InviteLinks {
		err := g.api.RevokeInviteLink(ctx, g.chatID, link)
		if err == nil || transport.IsAPIRejection(err) {
			continue
		}
		if errors.Is(err, transport.ErrNoInviteRights) {
			return "", fmt.Errorf("revoking link for user %d: %w", u.ID, ErrInsufficientPrivilege)
		}
		return "", fmt.Errorf("revoking link for user %d: %w", u.ID, err)
	}

	created, err := g.api.CreateInviteLink(ctx, g.chatID)
	if err != nil {
		if errors.Is(err, transport.ErrNoInviteRights) {
			return "", fmt.Errorf("creating link for user %d: %w", u.ID, ErrInsufficientPrivilege)
		}
		return "", fmt.Errorf("creating link for user %d: %w", u.ID, err)
	}

	u.InviteLinks = []string{created.Link}
	if err := g.store.UpdateUser(u); err != nil {
		return "", fmt.Errorf("recording link for user %d: %w", u.ID, err)
	}
	g.logger.Info("invite link issued", "user_id", u.ID)
	return created.Link, nil
}
