package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

func (s *Service) processCA(ctx context.Context, sub Submission) (int64, string, error) {
	player, err := s.admit(ctx, sub)
	if err != nil {
		return 0, "", err
	}

	recordID, err := s.store.InsertCombatAchievement(ctx, storage.CombatAchievement{
		PlayerID:   player.ID,
		TaskName:   sub.TaskName,
		ImageURL:   sub.ImageURL,
		ReceivedAt: sub.ReceivedAt,
		UniqueID:   sub.UniqueID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return 0, "", apperrors.New(apperrors.CodeDuplicate,
				fmt.Sprintf("task %q is already recorded", sub.TaskName))
		}
		return 0, "", fmt.Errorf("persist combat achievement: %w", err)
	}

	source := fmt.Sprintf("Combat Achievement: %s", sub.TaskName)
	s.award(ctx, player.ID, source, domain.TierPoints(sub.Tier), awardTTL)

	groups, err := s.memberGroups(ctx, player.ID)
	if err != nil {
		return recordID, "", err
	}
	payload := s.basePayload(player, sub)
	payload["task_name"] = sub.TaskName
	payload["tier"] = sub.Tier
	s.fanout(ctx, player, groups, "ca", sub.ImageURL, payload, func(settings Settings) bool {
		return settings.NotifyCAs() && domain.TierQualifies(sub.Tier, settings.MinCATier())
	})
	s.directMessage(ctx, player, "dm_ca", payload)

	return recordID, fmt.Sprintf("combat achievement %q recorded", sub.TaskName), nil
}
