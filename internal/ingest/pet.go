package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// petAwardPoints is the credit amount for a first pet acquisition.
const petAwardPoints = 50

func (s *Service) processPet(ctx context.Context, sub Submission) (int64, string, error) {
	player, err := s.admit(ctx, sub)
	if err != nil {
		return 0, "", err
	}

	// Pet resolution is lenient: an unknown item skips the DB row and the
	// award but still notifies.
	var (
		recordID int64
		firstOwn bool
	)
	item, err := s.store.ItemByName(ctx, sub.PetName)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Printf("ingest: pet %q has no item row, skipping persistence", sub.PetName)
	case err != nil:
		return 0, "", fmt.Errorf("lookup pet item: %w", err)
	default:
		recordID, err = s.store.InsertPet(ctx, storage.Pet{
			PlayerID: player.ID,
			ItemID:   item.ID,
			PetName:  sub.PetName,
		})
		switch {
		case errors.Is(err, storage.ErrConflict):
			// Already owned; duplicate sightings still fan out below.
		case err != nil:
			return 0, "", fmt.Errorf("persist pet: %w", err)
		default:
			firstOwn = true
		}
	}

	if firstOwn {
		s.award(ctx, player.ID, fmt.Sprintf("Pet: %s", sub.PetName), petAwardPoints, awardTTL)
	}

	groups, err := s.memberGroups(ctx, player.ID)
	if err != nil {
		return recordID, "", err
	}
	payload := s.basePayload(player, sub)
	payload["pet_name"] = sub.PetName
	payload["duplicate"] = strconv.FormatBool(!firstOwn)
	if sub.NPCName != "" {
		payload["npc_name"] = sub.NPCName
	}
	s.fanout(ctx, player, groups, "pet", sub.ImageURL, payload, Settings.NotifyPets)
	s.directMessage(ctx, player, "dm_pet", payload)

	if firstOwn {
		return recordID, fmt.Sprintf("pet %q recorded", sub.PetName), nil
	}
	return recordID, fmt.Sprintf("pet %q sighted again", sub.PetName), nil
}
