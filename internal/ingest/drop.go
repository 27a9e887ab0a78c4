package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/leaderboard"
	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// instantBoardFeature is the premium feature key granting unthrottled board
// refreshes on every drop.
const instantBoardFeature = "instant_board"

func (s *Service) processDrop(ctx context.Context, sub Submission) (int64, string, error) {
	player, err := s.admit(ctx, sub)
	if err != nil {
		return 0, "", err
	}

	item, err := s.resolver.ResolveItem(ctx, sub.ItemID, sub.ItemName)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeUnknownReference {
			payload := map[string]string{"item_name": sub.ItemName, "player_name": player.DisplayName}
			if enqueueErr := s.notify.Enqueue(ctx, "new_item", player.ID, nil, payload); enqueueErr != nil &&
				!errors.Is(enqueueErr, storage.ErrConflict) {
				log.Printf("ingest: enqueue new_item %q: %v", sub.ItemName, enqueueErr)
			}
		}
		return 0, "", err
	}
	npc, err := s.resolver.ResolveNPC(ctx, sub.NPCName, player.ID)
	if err != nil {
		return 0, "", err
	}

	unitValue := domain.TrueValue(ctx, s.upstream.Price, sub.ItemName, sub.Value)
	dropValue := unitValue * sub.Quantity
	if dropValue > highValueThreshold {
		verified, err := s.upstream.DropVerified(ctx, item.Name, npc.Name)
		if err != nil {
			return 0, "", err
		}
		if !verified {
			return 0, "", apperrors.New(apperrors.CodeDropUnverified,
				fmt.Sprintf("%s is not a known drop from %s", item.Name, npc.Name))
		}
	}

	drop := storage.Drop{
		PlayerID:      player.ID,
		ItemID:        item.ID,
		NPCID:         npc.ID,
		Value:         unitValue,
		Quantity:      sub.Quantity,
		ReceivedAt:    sub.ReceivedAt,
		ImageURL:      sub.ImageURL,
		Authenticated: sub.AccountHash != "",
		ViaAPI:        sub.UsedAPI,
		Partition:     domain.MonthlyPartition(sub.ReceivedAt),
		UniqueID:      sub.UniqueID,
	}
	dropID, err := s.store.InsertDrop(ctx, drop)
	if err != nil {
		return 0, "", fmt.Errorf("persist drop: %w", err)
	}

	groups, err := s.memberGroups(ctx, player.ID)
	if err != nil {
		return dropID, "", err
	}
	var groupIDs []int64
	for _, member := range groups {
		if member.group.ID == storage.GlobalGroupID {
			continue
		}
		groupIDs = append(groupIDs, member.group.ID)
	}
	update := leaderboard.DropUpdate{
		PlayerID:   player.ID,
		GroupIDs:   groupIDs,
		NPCID:      npc.ID,
		ItemID:     item.ID,
		ItemName:   item.Name,
		Quantity:   sub.Quantity,
		Value:      unitValue,
		ImageURL:   sub.ImageURL,
		ReceivedAt: sub.ReceivedAt,
	}
	if err := s.boards.RecordDrop(ctx, update); err != nil {
		// The SQL row is the source of truth; a missed increment is repaired
		// by the next force rebuild.
		log.Printf("ingest: leaderboard update for player %d: %v", player.ID, err)
	}

	payload := s.basePayload(player, sub)
	payload["item_name"] = item.Name
	payload["npc_name"] = npc.Name
	payload["quantity"] = strconv.FormatInt(sub.Quantity, 10)
	payload["value"] = strconv.FormatInt(unitValue, 10)
	payload["total_value"] = strconv.FormatInt(dropValue, 10)

	qualifies := func(settings Settings) bool {
		threshold := settings.MinValueToNotify()
		return unitValue >= threshold || (settings.SendStacks() && dropValue >= threshold)
	}
	enqueued := s.fanout(ctx, player, groups, "drop", sub.ImageURL, payload, qualifies)

	// Points are awarded once, not per group, when any non-global group
	// would have been notified about the drop.
	awardable := false
	for _, member := range groups {
		if member.group.ID == storage.GlobalGroupID {
			continue
		}
		if qualifies(member.settings) {
			awardable = true
			break
		}
	}
	if awardable {
		s.award(ctx, player.ID, fmt.Sprintf("Drop: %s", item.Name), dropValue/s.divisor, 0)
	}

	s.requestBoardRefreshes(ctx, groups)
	if enqueued > 0 {
		s.directMessage(ctx, player, "dm_drop", payload)
	}

	notice := fmt.Sprintf("drop of %s (%s gp) recorded", item.Name, strconv.FormatInt(dropValue, 10))
	return dropID, notice, nil
}

// requestBoardRefreshes asks the refresher for the global board plus every
// group with the instant-board feature active. The refresher applies the
// per-group throttle.
func (s *Service) requestBoardRefreshes(ctx context.Context, groups []memberGroup) {
	if s.refresher == nil {
		return
	}
	for _, member := range groups {
		if member.group.ID == storage.GlobalGroupID {
			s.refresher.Request(member.group.ID)
			continue
		}
		active, err := s.store.ActiveGroupFeature(ctx, member.group.ID, instantBoardFeature)
		if err != nil {
			log.Printf("ingest: check instant board for group %d: %v", member.group.ID, err)
			continue
		}
		if active {
			s.refresher.Request(member.group.ID)
		}
	}
}
