package ingest

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// clogAwardPoints is the credit amount for an unlocked collection-log slot.
const clogAwardPoints = 5

func (s *Service) processClog(ctx context.Context, sub Submission) (int64, string, error) {
	player, err := s.admit(ctx, sub)
	if err != nil {
		return 0, "", err
	}

	item, err := s.resolver.ResolveItem(ctx, sub.ItemID, sub.ItemName)
	if err != nil {
		return 0, "", err
	}
	npc, err := s.resolver.ResolveNPC(ctx, sub.NPCName, player.ID)
	if err != nil {
		return 0, "", err
	}

	recordID, err := s.store.InsertCollectionLogEntry(ctx, storage.CollectionLogEntry{
		PlayerID:      player.ID,
		ItemID:        item.ID,
		NPCID:         npc.ID,
		ReportedSlots: sub.ReportedSlots,
		ImageURL:      sub.ImageURL,
		ReceivedAt:    sub.ReceivedAt,
		UniqueID:      sub.UniqueID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return 0, "", apperrors.New(apperrors.CodeDuplicate,
				fmt.Sprintf("collection log slot %q is already recorded", item.Name))
		}
		return 0, "", fmt.Errorf("persist collection log entry: %w", err)
	}

	source := fmt.Sprintf("Collection Log slot: %s", item.Name)
	s.award(ctx, player.ID, source, clogAwardPoints, awardTTL)

	groups, err := s.memberGroups(ctx, player.ID)
	if err != nil {
		return recordID, "", err
	}
	payload := s.basePayload(player, sub)
	payload["item_name"] = item.Name
	payload["npc_name"] = npc.Name
	if sub.ReportedSlots > 0 {
		payload["slots"] = fmt.Sprintf("%d", sub.ReportedSlots)
	}
	s.fanout(ctx, player, groups, "clog", sub.ImageURL, payload, Settings.NotifyClogs)
	s.directMessage(ctx, player, "dm_clog", payload)

	return recordID, fmt.Sprintf("collection log slot %q recorded", item.Name), nil
}
