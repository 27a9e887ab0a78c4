package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/DropTracker-io/droptracker-core/internal/coalesce"
	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// pbAwardPoints is the credit amount for a new personal best at a boss the
// player has killed at least pbKillCountFloor times.
const pbAwardPoints = 20

// pbWindowKey keys the coalescing window by player alone: a team kill
// reported under different encounter spellings still materializes as one
// record per player.
func pbWindowKey(sub Submission) string {
	return domain.NormalizeDisplayName(sub.PlayerName)
}

func (s *Service) processPB(ctx context.Context, sub Submission, fromWindow bool) (int64, string, error) {
	if sub.CurrentTimeMS == 0 && sub.PersonalBestMS == 0 {
		return 0, "no kill time reported", nil
	}

	// Team raids arrive once per team member; buffer them and materialize
	// the largest team size after the window closes.
	if !fromWindow && coalesce.TeamBoss(sub.NPCName) {
		s.pbWindow.Offer(pbWindowKey(sub), sub, sub.ReceivedAt)
		return 0, "kill time queued for team coalescing", nil
	}

	player, err := s.admit(ctx, sub)
	if err != nil {
		return 0, "", err
	}
	npc, err := s.resolver.ResolveNPC(ctx, sub.NPCName, player.ID)
	if err != nil {
		return 0, "", err
	}

	teamSize := domain.ParseTeamSize(sub.TeamSize)
	effectiveMS := domain.EffectiveBestMS(sub.CurrentTimeMS, sub.PersonalBestMS)
	lastKillMS := sub.CurrentTimeMS
	if lastKillMS == 0 {
		lastKillMS = effectiveMS
	}

	var (
		recordID int64
		isNewPB  bool
	)
	existing, err := s.store.PersonalBestFor(ctx, player.ID, npc.ID, teamSize)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		isNewPB = sub.IsNewPB
		recordID, err = s.store.UpsertPersonalBest(ctx, storage.PersonalBest{
			PlayerID:   player.ID,
			NPCID:      npc.ID,
			TeamSize:   teamSize,
			BestMS:     effectiveMS,
			LastKillMS: lastKillMS,
			IsNewPB:    isNewPB,
			ImageURL:   sub.ImageURL,
			ReceivedAt: sub.ReceivedAt,
			UniqueID:   sub.UniqueID,
		})
		if err != nil {
			return 0, "", fmt.Errorf("persist personal best: %w", err)
		}
	case err != nil:
		return 0, "", fmt.Errorf("lookup personal best: %w", err)
	case effectiveMS < existing.BestMS:
		isNewPB = true
		recordID, err = s.store.UpsertPersonalBest(ctx, storage.PersonalBest{
			PlayerID:   player.ID,
			NPCID:      npc.ID,
			TeamSize:   teamSize,
			BestMS:     effectiveMS,
			LastKillMS: lastKillMS,
			IsNewPB:    true,
			ImageURL:   sub.ImageURL,
			ReceivedAt: sub.ReceivedAt,
			UniqueID:   sub.UniqueID,
		})
		if err != nil {
			return 0, "", fmt.Errorf("persist improved personal best: %w", err)
		}
	default:
		recordID = existing.ID
		if err := s.store.UpdateLastKill(ctx, player.ID, npc.ID, teamSize, lastKillMS); err != nil {
			return 0, "", fmt.Errorf("update last kill: %w", err)
		}
	}

	formatted := domain.FormatDuration(effectiveMS)
	if isNewPB {
		kc, err := s.upstream.KillCount(ctx, player.DisplayName, npc.Name)
		if err != nil {
			// The PB row persisted; a failed KC lookup only skips the award.
			log.Printf("ingest: kill count for %s at %s: %v", player.DisplayName, npc.Name, err)
		} else if kc >= pbKillCountFloor {
			source := fmt.Sprintf("New Personal Best (%s) at %s", formatted, npc.Name)
			s.award(ctx, player.ID, source, pbAwardPoints, awardTTL)
		}
	}

	groups, err := s.memberGroups(ctx, player.ID)
	if err != nil {
		return recordID, "", err
	}
	payload := s.basePayload(player, sub)
	payload["npc_name"] = npc.Name
	payload["time"] = formatted
	payload["team_size"] = strconv.Itoa(teamSize)
	payload["is_new_pb"] = strconv.FormatBool(isNewPB)
	s.fanout(ctx, player, groups, "pb", sub.ImageURL, payload, Settings.NotifyPBs)
	s.directMessage(ctx, player, "dm_pb", payload)

	if isNewPB {
		return recordID, fmt.Sprintf("new personal best %s at %s", formatted, npc.Name), nil
	}
	return recordID, fmt.Sprintf("kill time %s at %s recorded", formatted, npc.Name), nil
}

// FlushDuePBs materializes every coalescing window whose deadline passed,
// recording a receipt for each winner. Driven by a short ticker.
func (s *Service) FlushDuePBs(ctx context.Context) {
	for _, sub := range s.pbWindow.Due(s.clock()) {
		recordID, notice, err := s.processPB(ctx, sub, true)
		result := s.buildResult(sub, recordID, notice, err)
		s.recordReceipt(ctx, sub, result)
		if err != nil {
			log.Printf("ingest: coalesced pb for %s: %v", sub.PlayerName, err)
		}
	}
}

// PendingPBs reports how many coalescing windows are open.
func (s *Service) PendingPBs() int {
	return s.pbWindow.Pending()
}
