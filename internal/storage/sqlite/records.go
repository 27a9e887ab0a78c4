package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// PersonalBestFor loads the PB row for (player, npc, team size).
func (s *Store) PersonalBestFor(ctx context.Context, playerID, npcID int64, teamSize int) (storage.PersonalBest, error) {
	if err := s.ready(); err != nil {
		return storage.PersonalBest{}, err
	}
	var pb storage.PersonalBest
	var isNewPB int
	var receivedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, player_id, npc_id, team_size, best_ms, last_kill_ms, is_new_pb, image_url, received_at, unique_id
FROM personal_bests
WHERE player_id = ? AND npc_id = ? AND team_size = ?
`, playerID, npcID, teamSize).Scan(
		&pb.ID, &pb.PlayerID, &pb.NPCID, &pb.TeamSize, &pb.BestMS, &pb.LastKillMS,
		&isNewPB, &pb.ImageURL, &receivedAt, &pb.UniqueID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PersonalBest{}, storage.ErrNotFound
		}
		return storage.PersonalBest{}, fmt.Errorf("get personal best: %w", err)
	}
	pb.IsNewPB = isNewPB != 0
	pb.ReceivedAt = fromMillis(receivedAt)
	return pb, nil
}

// UpsertPersonalBest inserts or updates the PB row for
// (player, npc, team size) and returns its id.
func (s *Store) UpsertPersonalBest(ctx context.Context, pb storage.PersonalBest) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if pb.ReceivedAt.IsZero() {
		return 0, fmt.Errorf("received_at is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO personal_bests (
	player_id, npc_id, team_size, best_ms, last_kill_ms, is_new_pb, image_url, received_at, unique_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(player_id, npc_id, team_size) DO UPDATE SET
	best_ms = excluded.best_ms,
	last_kill_ms = excluded.last_kill_ms,
	is_new_pb = excluded.is_new_pb,
	image_url = excluded.image_url,
	received_at = excluded.received_at,
	unique_id = excluded.unique_id
`,
		pb.PlayerID, pb.NPCID, pb.TeamSize, pb.BestMS, pb.LastKillMS,
		boolToInt(pb.IsNewPB), pb.ImageURL, toMillis(pb.ReceivedAt), pb.UniqueID)
	if err != nil {
		return 0, fmt.Errorf("upsert personal best: %w", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("personal best insert id: %w", err)
	}
	return rowID, nil
}

// UpdateLastKill refreshes only the last-kill time on an existing PB row.
func (s *Store) UpdateLastKill(ctx context.Context, playerID, npcID int64, teamSize int, lastKillMS int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE personal_bests
SET last_kill_ms = ?, is_new_pb = 0
WHERE player_id = ? AND npc_id = ? AND team_size = ?
`, lastKillMS, playerID, npcID, teamSize); err != nil {
		return fmt.Errorf("update last kill: %w", err)
	}
	return nil
}

// InsertCombatAchievement inserts one CA row. Duplicate (player, task)
// rows return ErrConflict.
func (s *Store) InsertCombatAchievement(ctx context.Context, ca storage.CombatAchievement) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	taskName := strings.TrimSpace(ca.TaskName)
	if taskName == "" {
		return 0, fmt.Errorf("task name is required")
	}
	if ca.ReceivedAt.IsZero() {
		return 0, fmt.Errorf("received_at is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO combat_achievements (player_id, task_name, image_url, received_at, unique_id)
VALUES (?, ?, ?, ?, ?)
`, ca.PlayerID, taskName, ca.ImageURL, toMillis(ca.ReceivedAt), ca.UniqueID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert combat achievement: %w", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("combat achievement insert id: %w", err)
	}
	return rowID, nil
}

// InsertCollectionLogEntry inserts one clog row. Duplicate (player, item)
// rows return ErrConflict.
func (s *Store) InsertCollectionLogEntry(ctx context.Context, entry storage.CollectionLogEntry) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if entry.ReceivedAt.IsZero() {
		return 0, fmt.Errorf("received_at is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO collection_log_entries (player_id, item_id, npc_id, reported_slots, image_url, received_at, unique_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, entry.PlayerID, entry.ItemID, entry.NPCID, entry.ReportedSlots, entry.ImageURL,
		toMillis(entry.ReceivedAt), entry.UniqueID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert collection log entry: %w", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("collection log insert id: %w", err)
	}
	return rowID, nil
}

// InsertPet inserts one pet row. Duplicate (player, item) rows return
// ErrConflict so the caller can skip the first-acquisition award.
func (s *Store) InsertPet(ctx context.Context, pet storage.Pet) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO pets (player_id, item_id, pet_name) VALUES (?, ?, ?)
`, pet.PlayerID, pet.ItemID, pet.PetName)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert pet: %w", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("pet insert id: %w", err)
	}
	return rowID, nil
}
