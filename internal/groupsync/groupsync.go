// Package groupsync reconciles local group membership against each group's
// authoritative external roster. Syncs are additive-first: an empty or
// failed roster fetch never removes anyone.
package groupsync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// Store is the persistence surface the syncer needs. EnsureMembership
// reports whether the player was actually inserted so only real changes
// announce.
type Store interface {
	GroupsWithExternalID(ctx context.Context) ([]storage.Group, error)
	GroupMembers(ctx context.Context, groupID int64) ([]storage.Player, error)
	PlayerByDisplayName(ctx context.Context, displayName string) (storage.Player, error)
	EnsureMembership(ctx context.Context, playerID, groupID int64) (bool, error)
	RemoveMembership(ctx context.Context, playerID, groupID int64) error
	EnsureGlobalMemberships(ctx context.Context) (int64, error)
}

// Roster fetches the authoritative member list for an external group.
type Roster interface {
	GroupRoster(ctx context.Context, externalGroupID int64) ([]string, error)
}

// Notifier enqueues membership-change notifications.
type Notifier interface {
	Enqueue(ctx context.Context, kind string, playerID int64, groupID *int64, payload map[string]string) error
}

// Syncer reconciles group membership.
type Syncer struct {
	store  Store
	roster Roster
	notify Notifier
	silent bool
}

// NewSyncer builds a syncer. Silent mode, or a nil notifier, suppresses
// the player_added and player_removed announcements.
func NewSyncer(store Store, roster Roster, notifier Notifier, silent bool) *Syncer {
	return &Syncer{store: store, roster: roster, notify: notifier, silent: silent}
}

// SyncAll reconciles every externally linked group and repairs global
// membership. Per-group failures are logged and skipped; the sweep
// continues.
func (s *Syncer) SyncAll(ctx context.Context) error {
	groups, err := s.store.GroupsWithExternalID(ctx)
	if err != nil {
		return fmt.Errorf("list external groups: %w", err)
	}
	for _, group := range groups {
		if err := s.SyncGroup(ctx, group); err != nil {
			log.Printf("groupsync: group %d (%s): %v", group.ID, group.Name, err)
		}
	}
	repaired, err := s.store.EnsureGlobalMemberships(ctx)
	if err != nil {
		return fmt.Errorf("repair global memberships: %w", err)
	}
	if repaired > 0 {
		log.Printf("groupsync: repaired %d global memberships", repaired)
	}
	return nil
}

// SyncGroup reconciles one group against its external roster. Players on
// the roster that exist locally are added; local members absent from a
// non-empty roster are removed. An empty roster or a fetch error removes
// nobody. Each actual change enqueues a membership notification unless
// the syncer runs silent.
func (s *Syncer) SyncGroup(ctx context.Context, group storage.Group) error {
	if group.ExternalGroupID == nil {
		return nil
	}
	names, err := s.roster.GroupRoster(ctx, *group.ExternalGroupID)
	if err != nil {
		return fmt.Errorf("fetch roster: %w", err)
	}
	if len(names) == 0 {
		log.Printf("groupsync: group %d roster is empty, skipping removals", group.ID)
		return nil
	}

	wanted := make(map[string]bool, len(names))
	var added int
	for _, name := range names {
		normalized := domain.NormalizeDisplayName(name)
		if normalized == "" {
			continue
		}
		wanted[normalized] = true
		player, err := s.store.PlayerByDisplayName(ctx, name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("lookup roster member %q: %w", name, err)
		}
		inserted, err := s.store.EnsureMembership(ctx, player.ID, group.ID)
		if err != nil {
			return fmt.Errorf("add member %d: %w", player.ID, err)
		}
		if inserted {
			added++
			s.announce(ctx, "player_added", player, group)
		}
	}

	members, err := s.store.GroupMembers(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("list local members: %w", err)
	}
	var removed int
	for _, member := range members {
		if wanted[domain.NormalizeDisplayName(member.DisplayName)] {
			continue
		}
		if err := s.store.RemoveMembership(ctx, member.ID, group.ID); err != nil {
			return fmt.Errorf("remove member %d: %w", member.ID, err)
		}
		removed++
		s.announce(ctx, "player_removed", member, group)
	}
	if added > 0 || removed > 0 {
		log.Printf("groupsync: group %d reconciled, roster %d, added %d, removed %d",
			group.ID, len(names), added, removed)
	}
	return nil
}

// announce enqueues one membership-change notification. Failures degrade
// to a log line; the reconcile itself already succeeded.
func (s *Syncer) announce(ctx context.Context, kind string, player storage.Player, group storage.Group) {
	if s.silent || s.notify == nil {
		return
	}
	payload := map[string]string{
		"player_name": player.DisplayName,
		"group_name":  group.Name,
	}
	if err := s.notify.Enqueue(ctx, kind, player.ID, &group.ID, payload); err != nil {
		log.Printf("groupsync: enqueue %s for player %d: %v", kind, player.ID, err)
	}
}
