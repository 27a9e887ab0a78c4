package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

func pbSubmission(uniqueID, npc, teamSize string, currentMS int64) Submission {
	return Submission{
		Kind:          KindPB,
		PlayerName:    "Bob",
		AccountHash:   "hash-67890",
		UniqueID:      uniqueID,
		NPCName:       npc,
		TeamSize:      teamSize,
		CurrentTimeMS: currentMS,
		ReceivedAt:    fixedClock(),
	}
}

func TestProcessPBCreatesRow(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.resolver.npc = storage.NPC{ID: 2042, Name: "Zulrah"}
	h.upstream.killCount = 120

	sub := pbSubmission("p1", "Zulrah", "Solo", 65_400)
	sub.IsNewPB = true
	result := h.service.Process(context.Background(), sub)
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q (%v), want processed", result.Status, result.Err)
	}
	if len(h.store.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(h.store.upserts))
	}
	pb := h.store.upserts[0]
	if pb.BestMS != 65_400 || pb.TeamSize != 1 || !pb.IsNewPB {
		t.Errorf("pb = %+v, want 65400ms solo new pb", pb)
	}
	// KC 120 passes the floor: 20 points for 60 days.
	if len(h.points.awards) != 1 || h.points.awards[0].amount != 20 || h.points.awards[0].ttl != awardTTL {
		t.Fatalf("awards = %+v, want one 20-point 60-day award", h.points.awards)
	}
	if n := h.notify.countKind("pb"); n != 1 {
		t.Errorf("pb notifications = %d, want 1", n)
	}
}

func TestProcessPBSlowerKillOnlyUpdatesLastKill(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.resolver.npc = storage.NPC{ID: 2042, Name: "Zulrah"}
	h.store.pbs[pbKey(7, 2042, 1)] = storage.PersonalBest{ID: 4, PlayerID: 7, NPCID: 2042, TeamSize: 1, BestMS: 60_000}

	result := h.service.Process(context.Background(), pbSubmission("p2", "Zulrah", "Solo", 70_000))
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q (%v), want processed", result.Status, result.Err)
	}
	if len(h.store.upserts) != 0 {
		t.Errorf("upserts = %d, want 0 for a slower kill", len(h.store.upserts))
	}
	if len(h.store.lastKills) != 1 || h.store.lastKills[0] != 70_000 {
		t.Errorf("lastKills = %v, want [70000]", h.store.lastKills)
	}
	if len(h.points.awards) != 0 {
		t.Errorf("awards = %+v, want none for a slower kill", h.points.awards)
	}
}

func TestProcessPBImprovementBelowKCFloorSkipsAward(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.resolver.npc = storage.NPC{ID: 2042, Name: "Zulrah"}
	h.store.pbs[pbKey(7, 2042, 1)] = storage.PersonalBest{ID: 4, PlayerID: 7, NPCID: 2042, TeamSize: 1, BestMS: 60_000}
	h.upstream.killCount = 12

	result := h.service.Process(context.Background(), pbSubmission("p3", "Zulrah", "Solo", 55_000))
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q (%v), want processed", result.Status, result.Err)
	}
	if len(h.store.upserts) != 1 || !h.store.upserts[0].IsNewPB {
		t.Fatalf("upserts = %+v, want one improved pb", h.store.upserts)
	}
	if len(h.points.awards) != 0 {
		t.Errorf("awards = %+v, want none below the kill count floor", h.points.awards)
	}
}

func TestProcessPBZeroTimesIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	result := h.service.Process(context.Background(), pbSubmission("p4", "Zulrah", "Solo", 0))
	if result.Status != storage.SubmissionProcessed {
		t.Fatalf("status = %q, want processed noop", result.Status)
	}
	if len(h.store.upserts) != 0 || len(h.store.lastKills) != 0 {
		t.Errorf("zero-time submission mutated state")
	}
}

func TestProcessPBCoalescesTeamRaids(t *testing.T) {
	t.Parallel()

	now := fixedClock()
	clock := func() time.Time { return now }
	h := newHarness(clock)
	h.resolver.player = storage.Player{ID: 9, DisplayName: "Bob", AccountHash: "hash-67890"}
	h.resolver.npc = storage.NPC{ID: 10847, Name: "Theatre of Blood: Entry Mode"}
	h.upstream.killCount = 80

	for i, teamSize := range []string{"3", "Solo", "5"} {
		sub := pbSubmission("raid-"+teamSize, "Theatre of Blood: Entry Mode", teamSize, 900_000)
		sub.ReceivedAt = now.Add(time.Duration(i) * time.Second)
		result := h.service.Process(context.Background(), sub)
		if result.Status != storage.SubmissionProcessed {
			t.Fatalf("queue #%d status = %q (%v)", i, result.Status, result.Err)
		}
	}
	if len(h.store.upserts) != 0 {
		t.Fatalf("pb materialized before the window closed")
	}
	if h.service.PendingPBs() != 1 {
		t.Fatalf("pending windows = %d, want 1", h.service.PendingPBs())
	}

	now = now.Add(11 * time.Second)
	h.service.FlushDuePBs(context.Background())

	if len(h.store.upserts) != 1 {
		t.Fatalf("upserts = %d, want exactly 1 after the window", len(h.store.upserts))
	}
	if h.store.upserts[0].TeamSize != 5 {
		t.Errorf("team size = %d, want 5 (largest wins)", h.store.upserts[0].TeamSize)
	}
	if n := h.notify.countKind("pb"); n != 1 {
		t.Errorf("pb notifications = %d, want 1", n)
	}
}

func TestProcessPBOneWindowPerPlayer(t *testing.T) {
	t.Parallel()

	now := fixedClock()
	clock := func() time.Time { return now }
	h := newHarness(clock)
	h.resolver.player = storage.Player{ID: 9, DisplayName: "Bob", AccountHash: "hash-67890"}
	h.resolver.npc = storage.NPC{ID: 10847, Name: "Theatre of Blood"}
	h.upstream.killCount = 80

	// The same kill reported under diverging encounter spellings still
	// shares the player's window.
	for i, npc := range []string{"Theatre of Blood", "Theatre of Blood: Entry Mode"} {
		sub := pbSubmission("raid-spelling-"+npc, npc, "4", 900_000)
		sub.ReceivedAt = now.Add(time.Duration(i) * time.Second)
		if result := h.service.Process(context.Background(), sub); result.Status != storage.SubmissionProcessed {
			t.Fatalf("queue #%d status = %q (%v)", i, result.Status, result.Err)
		}
	}
	if h.service.PendingPBs() != 1 {
		t.Fatalf("pending windows = %d, want 1 per player", h.service.PendingPBs())
	}

	now = now.Add(11 * time.Second)
	h.service.FlushDuePBs(context.Background())
	if len(h.store.upserts) != 1 {
		t.Fatalf("upserts = %d, want exactly 1 after the window", len(h.store.upserts))
	}
}

func TestProcessPBNotifyGate(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.resolver.npc = storage.NPC{ID: 2042, Name: "Zulrah"}
	h.store.config[storage.GlobalGroupID] = []storage.GroupConfigEntry{
		{GroupID: storage.GlobalGroupID, Key: "notify_pbs", Value: "false"},
	}

	sub := pbSubmission("p5", "Zulrah", "Solo", 65_400)
	sub.IsNewPB = true
	if result := h.service.Process(context.Background(), sub); result.Err != nil {
		t.Fatalf("Process() error = %v", result.Err)
	}
	if n := h.notify.countKind("pb"); n != 0 {
		t.Errorf("pb notifications = %d, want 0 with the gate off", n)
	}
}
