package resolve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// AuthGate decides whether a submission may mutate state under a player
// name. Binding is first-writer-wins: an unbound player adopts the first
// hash submitted for it; a bound player rejects every other hash.
type AuthGate struct {
	store Store
	clock func() time.Time
}

// NewAuthGate builds an auth gate. A nil clock uses time.Now.
func NewAuthGate(store Store, clock func() time.Time) *AuthGate {
	if clock == nil {
		clock = time.Now
	}
	return &AuthGate{store: store, clock: clock}
}

// Check returns (userExists, authed) for the submitted identity tuple.
func (g *AuthGate) Check(ctx context.Context, playerName, accountHash string) (bool, bool, error) {
	playerName = strings.TrimSpace(playerName)
	accountHash = strings.TrimSpace(accountHash)

	player, err := g.store.PlayerByDisplayName(ctx, playerName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("lookup player: %w", err)
	}

	if player.AccountHash != "" {
		return true, player.AccountHash == accountHash, nil
	}
	if accountHash == "" {
		return true, false, nil
	}

	err = g.store.BindAccountHash(ctx, player.ID, accountHash, g.clock())
	if err == nil {
		return true, true, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return true, false, fmt.Errorf("bind account hash: %w", err)
	}

	// Another player already owns the hash. When the names are equivalent
	// this is the same account seen under a stale spelling; adopt the
	// submitted form on the owning row.
	owner, lookupErr := g.store.PlayerByAccountHash(ctx, accountHash)
	if lookupErr != nil {
		if errors.Is(lookupErr, storage.ErrNotFound) {
			return true, false, nil
		}
		return true, false, fmt.Errorf("lookup hash owner: %w", lookupErr)
	}
	if owner.ID != player.ID && domain.SameDisplayName(owner.DisplayName, playerName) {
		if updateErr := g.store.UpdatePlayerDisplayName(ctx, owner.ID, playerName, g.clock()); updateErr != nil {
			log.Printf("authgate: adopt display name on player %d: %v", owner.ID, updateErr)
			return true, false, nil
		}
		return true, true, nil
	}
	return true, false, nil
}
