package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// pbLinePattern matches one adventure-log PB line: `<boss> - <team_size> : <time>`.
var pbLinePattern = regexp.MustCompile(`^(.+?)\s+-\s+(\S+)\s*:\s*(\S+)$`)

// processAdventureLog back-fills PBs and pets from a bulk payload. The
// back-fill is silent: no notifications and no points.
func (s *Service) processAdventureLog(ctx context.Context, sub Submission) (int64, string, error) {
	player, err := s.admit(ctx, sub)
	if err != nil {
		return 0, "", err
	}

	var pbCount int
	for _, line := range strings.Split(sub.AdventureLog, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		match := pbLinePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		bossName, teamLabel, rawTime := match[1], match[2], match[3]
		ms, err := domain.ParseDuration(rawTime)
		if err != nil || ms == 0 {
			continue
		}
		if s.backfillPB(ctx, player, bossName, domain.ParseTeamSize(teamLabel), ms, sub.ReceivedAt) {
			pbCount++
		}
	}

	var petCount int
	for _, itemID := range sub.PetItemIDs {
		item, err := s.store.ItemByID(ctx, itemID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Printf("ingest: adventure log pet item %d: %v", itemID, err)
			}
			continue
		}
		_, err = s.store.InsertPet(ctx, storage.Pet{
			PlayerID: player.ID,
			ItemID:   item.ID,
			PetName:  item.Name,
		})
		switch {
		case errors.Is(err, storage.ErrConflict):
		case err != nil:
			log.Printf("ingest: adventure log insert pet %d: %v", itemID, err)
		default:
			petCount++
		}
	}

	return 0, fmt.Sprintf("adventure log back-filled %d personal bests, %d pets", pbCount, petCount), nil
}

// backfillPB upserts one PB row when the reported time beats the stored one.
// Unknown bosses are skipped; the back-fill never creates NPC rows.
func (s *Service) backfillPB(ctx context.Context, player storage.Player, bossName string, teamSize int, ms int64, at time.Time) bool {
	npc, err := s.store.NPCByName(ctx, domain.NormalizeNPCName(bossName))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("ingest: adventure log npc %q: %v", bossName, err)
		}
		return false
	}

	existing, err := s.store.PersonalBestFor(ctx, player.ID, npc.ID, teamSize)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		log.Printf("ingest: adventure log pb lookup %q: %v", bossName, err)
		return false
	case ms >= existing.BestMS:
		return false
	}

	if _, err := s.store.UpsertPersonalBest(ctx, storage.PersonalBest{
		PlayerID:   player.ID,
		NPCID:      npc.ID,
		TeamSize:   teamSize,
		BestMS:     ms,
		LastKillMS: ms,
		ReceivedAt: at,
	}); err != nil {
		log.Printf("ingest: adventure log pb upsert %q: %v", bossName, err)
		return false
	}
	return true
}
