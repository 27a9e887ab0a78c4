// Package resolve turns inbound submission identifiers into persisted
// Player, Item, and NPC rows, creating rows on miss only after an external
// service confirms the reference exists.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/extern"
	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// minAccountHashLen is the shortest account hash accepted as identifying.
const minAccountHashLen = 5

// npcCacheCap bounds the in-memory npc name cache; eviction is FIFO.
const npcCacheCap = 512

// Store is the persistence surface the resolver needs.
type Store interface {
	PlayerByAccountHash(ctx context.Context, accountHash string) (storage.Player, error)
	PlayerByDisplayName(ctx context.Context, displayName string) (storage.Player, error)
	CreatePlayer(ctx context.Context, player storage.Player) (int64, error)
	UpdatePlayerDisplayName(ctx context.Context, playerID int64, displayName string, at time.Time) error
	BindAccountHash(ctx context.Context, playerID int64, accountHash string, at time.Time) error
	UserByID(ctx context.Context, userID int64) (storage.User, error)

	ItemByID(ctx context.Context, itemID int64) (storage.Item, error)
	ItemByName(ctx context.Context, name string) (storage.Item, error)
	CreateItem(ctx context.Context, item storage.Item) error
	NPCByID(ctx context.Context, npcID int64) (storage.NPC, error)
	NPCByName(ctx context.Context, name string) (storage.NPC, error)
	CreateNPC(ctx context.Context, npc storage.NPC) error
}

// External is the upstream lookup surface the resolver needs.
type External interface {
	PlayerMetadata(ctx context.Context, displayName string) (extern.PlayerInfo, error)
	ItemID(ctx context.Context, itemName string) (int64, error)
	NPCID(ctx context.Context, npcName string) (int64, error)
}

// Notifier enqueues pipeline notifications.
type Notifier interface {
	Enqueue(ctx context.Context, kind string, playerID int64, groupID *int64, payload map[string]string) error
}

// Resolver resolves and creates players, items, and NPCs.
type Resolver struct {
	store    Store
	external External
	notifier Notifier
	clock    func() time.Time

	mu       sync.Mutex
	npcNames []string
	npcCache map[string]storage.NPC
}

// NewResolver builds a resolver. A nil clock uses time.Now.
func NewResolver(store Store, external External, notifier Notifier, clock func() time.Time) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		store:    store,
		external: external,
		notifier: notifier,
		clock:    clock,
		npcCache: make(map[string]storage.NPC, npcCacheCap),
	}
}

// ResolvePlayer finds or creates the player for a submission. Lookup order
// is account hash, display name, then the external metadata service; a
// player is created only when the external service confirms the name.
func (r *Resolver) ResolvePlayer(ctx context.Context, displayName, accountHash string) (storage.Player, error) {
	displayName = strings.TrimSpace(displayName)
	accountHash = strings.TrimSpace(accountHash)
	if displayName == "" {
		return storage.Player{}, apperrors.New(apperrors.CodeValidation, "player name is required")
	}
	if accountHash != "" && len(accountHash) < minAccountHashLen {
		return storage.Player{}, apperrors.New(apperrors.CodeAuthDataInsufficient,
			"account hash is too short to identify a player")
	}

	if accountHash != "" {
		player, err := r.store.PlayerByAccountHash(ctx, accountHash)
		if err == nil {
			if !domain.SameDisplayName(player.DisplayName, displayName) {
				if err := r.ReconcileName(ctx, player, displayName); err != nil {
					return storage.Player{}, err
				}
				player.DisplayName = displayName
			}
			return player, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Player{}, fmt.Errorf("lookup player by hash: %w", err)
		}
	}

	player, err := r.store.PlayerByDisplayName(ctx, displayName)
	if err == nil {
		if player.AccountHash == "" && accountHash != "" {
			if err := r.store.BindAccountHash(ctx, player.ID, accountHash, r.clock()); err != nil && !errors.Is(err, storage.ErrConflict) {
				return storage.Player{}, fmt.Errorf("bind account hash: %w", err)
			}
			player.AccountHash = accountHash
		}
		return player, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Player{}, fmt.Errorf("lookup player by name: %w", err)
	}

	info, err := r.external.PlayerMetadata(ctx, displayName)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return storage.Player{}, apperrors.New(apperrors.CodeAuthFailure,
				fmt.Sprintf("player %q is unknown", displayName))
		}
		return storage.Player{}, err
	}

	now := r.clock()
	created := storage.Player{
		ExternalID:         info.ID,
		AccountHash:        accountHash,
		DisplayName:        displayName,
		TotalLevel:         info.TotalLevel,
		CollectionLogSlots: info.CollectionLogSlots,
		CreatedAt:          now,
	}
	playerID, err := r.store.CreatePlayer(ctx, created)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a create race; the row exists now.
			return r.store.PlayerByDisplayName(ctx, displayName)
		}
		return storage.Player{}, fmt.Errorf("create player: %w", err)
	}
	created.ID = playerID
	created.UpdatedAt = now
	return created, nil
}

// ReconcileName updates a drifted display name and enqueues the name-change
// notifications.
func (r *Resolver) ReconcileName(ctx context.Context, player storage.Player, newDisplayName string) error {
	newDisplayName = strings.TrimSpace(newDisplayName)
	if newDisplayName == "" || domain.SameDisplayName(player.DisplayName, newDisplayName) {
		return nil
	}
	if err := r.store.UpdatePlayerDisplayName(ctx, player.ID, newDisplayName, r.clock()); err != nil {
		return fmt.Errorf("reconcile display name: %w", err)
	}
	payload := map[string]string{
		"old_name": player.DisplayName,
		"new_name": newDisplayName,
	}
	if err := r.notifier.Enqueue(ctx, "name_change", player.ID, nil, payload); err != nil && !errors.Is(err, storage.ErrConflict) {
		log.Printf("resolve: enqueue name_change for player %d: %v", player.ID, err)
	}
	if player.OwnerUserID != nil {
		user, err := r.store.UserByID(ctx, *player.OwnerUserID)
		if err == nil && user.DMOptedIn("dm_name_change") {
			if err := r.notifier.Enqueue(ctx, "dm_name_change", player.ID, nil, payload); err != nil && !errors.Is(err, storage.ErrConflict) {
				log.Printf("resolve: enqueue dm_name_change for player %d: %v", player.ID, err)
			}
		}
	}
	return nil
}

// ResolveItem finds or creates the item for a submission. A row is created
// only when the semantic service knows the name and the client supplied an
// id.
func (r *Resolver) ResolveItem(ctx context.Context, itemID int64, itemName string) (storage.Item, error) {
	itemName = strings.TrimSpace(itemName)
	if itemID > 0 {
		item, err := r.store.ItemByID(ctx, itemID)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Item{}, fmt.Errorf("lookup item by id: %w", err)
		}
	}
	if itemName != "" {
		item, err := r.store.ItemByName(ctx, itemName)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Item{}, fmt.Errorf("lookup item by name: %w", err)
		}
	}
	if itemName == "" {
		return storage.Item{}, apperrors.New(apperrors.CodeUnknownReference, "item is unknown")
	}

	if _, err := r.external.ItemID(ctx, itemName); err != nil {
		return storage.Item{}, err
	}
	if itemID <= 0 {
		// Known upstream but the client supplied no id; nothing safe to create.
		return storage.Item{}, apperrors.New(apperrors.CodeUnknownReference,
			fmt.Sprintf("item %q has no id to create a row from", itemName))
	}
	item := storage.Item{ID: itemID, Name: itemName}
	if err := r.store.CreateItem(ctx, item); err != nil {
		return storage.Item{}, fmt.Errorf("create item: %w", err)
	}
	return item, nil
}

// ResolveNPC finds or creates the NPC for a submission, consulting the
// bounded name cache, the database, then the semantic service. A still
// unknown NPC enqueues a new_npc notification and resolves to nothing.
func (r *Resolver) ResolveNPC(ctx context.Context, npcName string, playerID int64) (storage.NPC, error) {
	name := domain.NormalizeNPCName(npcName)
	if name == "" {
		return storage.NPC{}, apperrors.New(apperrors.CodeValidation, "npc name is required")
	}

	if id, canonical, ok := domain.DoomOfMokhaiotlID(name); ok {
		npc := storage.NPC{ID: id, Name: canonical}
		if _, err := r.store.NPCByID(ctx, id); errors.Is(err, storage.ErrNotFound) {
			if err := r.store.CreateNPC(ctx, npc); err != nil {
				return storage.NPC{}, fmt.Errorf("create doom npc: %w", err)
			}
		} else if err != nil {
			return storage.NPC{}, fmt.Errorf("lookup doom npc: %w", err)
		}
		r.cacheNPC(name, npc)
		return npc, nil
	}

	cacheKey := strings.ToLower(name)
	r.mu.Lock()
	if npc, ok := r.npcCache[cacheKey]; ok {
		r.mu.Unlock()
		return npc, nil
	}
	r.mu.Unlock()

	npc, err := r.store.NPCByName(ctx, name)
	if err == nil {
		r.cacheNPC(name, npc)
		return npc, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.NPC{}, fmt.Errorf("lookup npc by name: %w", err)
	}

	npcID, err := r.external.NPCID(ctx, name)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeUnknownReference {
			payload := map[string]string{"npc_name": name}
			if enqueueErr := r.notifier.Enqueue(ctx, "new_npc", playerID, nil, payload); enqueueErr != nil && !errors.Is(enqueueErr, storage.ErrConflict) {
				log.Printf("resolve: enqueue new_npc %q: %v", name, enqueueErr)
			}
		}
		return storage.NPC{}, err
	}

	npc = storage.NPC{ID: npcID, Name: name}
	if err := r.store.CreateNPC(ctx, npc); err != nil {
		return storage.NPC{}, fmt.Errorf("create npc: %w", err)
	}
	r.cacheNPC(name, npc)
	return npc, nil
}

func (r *Resolver) cacheNPC(name string, npc storage.NPC) {
	key := strings.ToLower(domain.NormalizeNPCName(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.npcCache[key]; ok {
		r.npcCache[key] = npc
		return
	}
	if len(r.npcNames) >= npcCacheCap {
		oldest := r.npcNames[0]
		r.npcNames = r.npcNames[1:]
		delete(r.npcCache, oldest)
	}
	r.npcNames = append(r.npcNames, key)
	r.npcCache[key] = npc
}
