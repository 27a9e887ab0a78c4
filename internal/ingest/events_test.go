package ingest

import (
	"context"
	"testing"

	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

func TestProcessCATierGate(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.store.groups = []storage.Group{
		{ID: storage.GlobalGroupID, Name: "Global"},
		{ID: 10, Name: "Iron Clan"},
	}
	h.store.config[10] = []storage.GroupConfigEntry{
		{GroupID: 10, Key: "notify_cas", Value: "true"},
		{GroupID: 10, Key: "min_ca_tier_to_notify", Value: "master"},
	}
	// The global group gates on tier elite, which hard also misses.
	h.store.config[storage.GlobalGroupID] = []storage.GroupConfigEntry{
		{GroupID: storage.GlobalGroupID, Key: "min_ca_tier_to_notify", Value: "elite"},
	}

	result := h.service.Process(context.Background(), Submission{
		Kind:        KindCA,
		PlayerName:  "Alice",
		AccountHash: "hash-12345",
		UniqueID:    "ca1",
		TaskName:    "Perfect Zulrah",
		Tier:        "hard",
		ReceivedAt:  fixedClock(),
	})
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q (%v), want processed", result.Status, result.Err)
	}
	// Hard is tier 3: 3 points for 60 days, regardless of the notify gate.
	if len(h.points.awards) != 1 || h.points.awards[0].amount != 3 || h.points.awards[0].ttl != awardTTL {
		t.Fatalf("awards = %+v, want one 3-point award", h.points.awards)
	}
	if n := h.notify.countKind("ca"); n != 0 {
		t.Errorf("ca notifications = %d, want 0 below the tier minimum", n)
	}
}

func TestProcessCAQualifyingTierNotifies(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.store.config[storage.GlobalGroupID] = []storage.GroupConfigEntry{
		{GroupID: storage.GlobalGroupID, Key: "min_ca_tier_to_notify", Value: "elite"},
	}

	result := h.service.Process(context.Background(), Submission{
		Kind:        KindCA,
		PlayerName:  "Alice",
		AccountHash: "hash-12345",
		UniqueID:    "ca2",
		TaskName:    "Grandmaster feat",
		Tier:        "grandmaster",
		ReceivedAt:  fixedClock(),
	})
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q (%v)", result.Status, result.Err)
	}
	if len(h.points.awards) != 1 || h.points.awards[0].amount != 6 {
		t.Fatalf("awards = %+v, want one 6-point award", h.points.awards)
	}
	if n := h.notify.countKind("ca"); n != 1 {
		t.Errorf("ca notifications = %d, want 1", n)
	}
}

func TestProcessCADuplicateTask(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	sub := Submission{
		Kind:        KindCA,
		PlayerName:  "Alice",
		AccountHash: "hash-12345",
		UniqueID:    "ca3",
		TaskName:    "Perfect Zulrah",
		Tier:        "hard",
		ReceivedAt:  fixedClock(),
	}
	if result := h.service.Process(context.Background(), sub); result.Err != nil {
		t.Fatalf("first Process() error = %v", result.Err)
	}
	sub.UniqueID = "ca4"
	result := h.service.Process(context.Background(), sub)
	if result.Status != storage.SubmissionDuplicate {
		t.Fatalf("status = %q, want duplicate on repeated task", result.Status)
	}
	if len(h.points.awards) != 1 {
		t.Errorf("awards = %d, want 1 (no double award)", len(h.points.awards))
	}
}

func TestProcessClogAwardsAndNotifies(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.resolver.item = storage.Item{ID: 12073, Name: "Clue scroll (elite)"}
	h.resolver.npc = storage.NPC{ID: 2042, Name: "Zulrah"}

	result := h.service.Process(context.Background(), Submission{
		Kind:        KindClog,
		PlayerName:  "Alice",
		AccountHash: "hash-12345",
		UniqueID:    "cl1",
		ItemName:    "Clue scroll (elite)",
		NPCName:     "Zulrah",
		ReceivedAt:  fixedClock(),
	})
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q (%v)", result.Status, result.Err)
	}
	if len(h.points.awards) != 1 || h.points.awards[0].amount != clogAwardPoints {
		t.Fatalf("awards = %+v, want one 5-point award", h.points.awards)
	}
	if h.points.awards[0].source != "Collection Log slot: Clue scroll (elite)" {
		t.Errorf("source = %q", h.points.awards[0].source)
	}
	if n := h.notify.countKind("clog"); n != 1 {
		t.Errorf("clog notifications = %d, want 1", n)
	}
}

func TestProcessClogUnknownItemRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.resolver.itemErr = apperrors.New(apperrors.CodeUnknownReference, "item is unknown")

	result := h.service.Process(context.Background(), Submission{
		Kind:        KindClog,
		PlayerName:  "Alice",
		AccountHash: "hash-12345",
		UniqueID:    "cl2",
		ItemName:    "Mystery item",
		NPCName:     "Zulrah",
		ReceivedAt:  fixedClock(),
	})
	if result.Status != storage.SubmissionRejected {
		t.Fatalf("status = %q, want rejected", result.Status)
	}
	if len(h.points.awards) != 0 || h.notify.countKind("clog") != 0 {
		t.Errorf("unknown item still awarded or notified")
	}
}

func TestProcessPetFirstAcquisitionAwards(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.store.items["Pet snakeling"] = storage.Item{ID: 12921, Name: "Pet snakeling"}

	sub := Submission{
		Kind:        KindPet,
		PlayerName:  "Alice",
		AccountHash: "hash-12345",
		UniqueID:    "pet1",
		PetName:     "Pet snakeling",
		ReceivedAt:  fixedClock(),
	}
	if result := h.service.Process(context.Background(), sub); result.Err != nil {
		t.Fatalf("first Process() error = %v", result.Err)
	}
	if len(h.points.awards) != 1 || h.points.awards[0].amount != petAwardPoints {
		t.Fatalf("awards = %+v, want one 50-point award", h.points.awards)
	}

	// A second sighting still notifies but never re-awards.
	sub.UniqueID = "pet2"
	if result := h.service.Process(context.Background(), sub); result.Err != nil {
		t.Fatalf("second Process() error = %v", result.Err)
	}
	if len(h.points.awards) != 1 {
		t.Errorf("awards = %d, want 1 after duplicate sighting", len(h.points.awards))
	}
	if n := h.notify.countKind("pet"); n != 2 {
		t.Errorf("pet notifications = %d, want 2", n)
	}
}

func TestProcessPetUnknownItemStillNotifies(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	result := h.service.Process(context.Background(), Submission{
		Kind:        KindPet,
		PlayerName:  "Alice",
		AccountHash: "hash-12345",
		UniqueID:    "pet3",
		PetName:     "Unmodelled pet",
		ReceivedAt:  fixedClock(),
	})
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q (%v)", result.Status, result.Err)
	}
	if len(h.points.awards) != 0 {
		t.Errorf("awards = %+v, want none without an item row", h.points.awards)
	}
	if n := h.notify.countKind("pet"); n != 1 {
		t.Errorf("pet notifications = %d, want 1", n)
	}
}

func TestProcessAdventureLogBackfillsSilently(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.store.npcs["Zulrah"] = storage.NPC{ID: 2042, Name: "Zulrah"}
	h.store.pbs[pbKey(7, 2042, 1)] = storage.PersonalBest{ID: 4, PlayerID: 7, NPCID: 2042, TeamSize: 1, BestMS: 70_000}
	h.store.itemsID[12921] = storage.Item{ID: 12921, Name: "Pet snakeling"}

	result := h.service.Process(context.Background(), Submission{
		Kind:        KindAdventureLog,
		PlayerName:  "Alice",
		AccountHash: "hash-12345",
		UniqueID:    "al1",
		AdventureLog: "Zulrah - Solo : 1:02.4\n" +
			"Unknown Boss - 3 : 12:00.0\n" +
			"not a pb line",
		PetItemIDs: []int64{12921, 99999},
		ReceivedAt: fixedClock(),
	})
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q (%v)", result.Status, result.Err)
	}
	// 1:02.4 beats 70s; the unknown boss and malformed line are skipped.
	if len(h.store.upserts) != 1 || h.store.upserts[0].BestMS != 62_400 {
		t.Fatalf("upserts = %+v, want one 62400ms backfill", h.store.upserts)
	}
	if !h.store.pets["7-12921"] {
		t.Errorf("pet 12921 not backfilled")
	}
	// Silent: no notifications, no points.
	if len(h.notify.calls) != 0 || len(h.points.awards) != 0 {
		t.Errorf("backfill produced notifications %v or awards %v", h.notify.calls, h.points.awards)
	}
}
