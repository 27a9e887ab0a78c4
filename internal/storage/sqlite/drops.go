package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// InsertDrop persists one drop row and returns its id.
func (s *Store) InsertDrop(ctx context.Context, drop storage.Drop) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if drop.ReceivedAt.IsZero() {
		return 0, fmt.Errorf("received_at is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO drops (
	player_id, item_id, npc_id, value, quantity, received_at,
	image_url, authenticated, via_api, month_partition, unique_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		drop.PlayerID,
		drop.ItemID,
		drop.NPCID,
		drop.Value,
		drop.Quantity,
		toMillis(drop.ReceivedAt),
		drop.ImageURL,
		boolToInt(drop.Authenticated),
		boolToInt(drop.ViaAPI),
		drop.Partition,
		drop.UniqueID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert drop: %w", err)
	}
	dropID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("drop insert id: %w", err)
	}
	return dropID, nil
}

const dropColumns = `id, player_id, item_id, npc_id, value, quantity, received_at,
image_url, authenticated, via_api, month_partition, unique_id`

func scanDrop(scan scanner) (storage.Drop, error) {
	var drop storage.Drop
	var receivedAt int64
	var authenticated, viaAPI int
	if err := scan(
		&drop.ID,
		&drop.PlayerID,
		&drop.ItemID,
		&drop.NPCID,
		&drop.Value,
		&drop.Quantity,
		&receivedAt,
		&drop.ImageURL,
		&authenticated,
		&viaAPI,
		&drop.Partition,
		&drop.UniqueID,
	); err != nil {
		return storage.Drop{}, err
	}
	drop.ReceivedAt = fromMillis(receivedAt)
	drop.Authenticated = authenticated != 0
	drop.ViaAPI = viaAPI != 0
	return drop, nil
}

// DropsForPlayer loads every drop for one player ordered by received_at
// ascending. Used by the leaderboard force rebuild.
func (s *Store) DropsForPlayer(ctx context.Context, playerID int64) ([]storage.Drop, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+dropColumns+`
FROM drops
WHERE player_id = ?
ORDER BY received_at ASC, id ASC
`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list drops for player: %w", err)
	}
	defer rows.Close()

	var drops []storage.Drop
	for rows.Next() {
		drop, scanErr := scanDrop(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan drop row: %w", scanErr)
		}
		drops = append(drops, drop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drop rows: %w", err)
	}
	return drops, nil
}

// recentTables maps submission kinds to the table and timestamp column used
// by the dedup window check.
var recentTables = map[string]string{
	"drop": "drops",
	"pb":   "personal_bests",
	"ca":   "combat_achievements",
	"clog": "collection_log_entries",
}

// RecentSubmissionExists reports whether a row of the given kind with the
// same unique_id was received at or after the cutoff. Pets carry no
// timestamp; their dedup window is the ring plus the row uniqueness.
func (s *Store) RecentSubmissionExists(ctx context.Context, kind, uniqueID string, since time.Time) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	uniqueID = strings.TrimSpace(uniqueID)
	if uniqueID == "" {
		return false, nil
	}
	table, ok := recentTables[kind]
	if !ok {
		return false, nil
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM `+table+` WHERE unique_id = ? AND received_at >= ? LIMIT 1`,
		uniqueID, toMillis(since)).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("recent submission lookup: %w", err)
	}
	return true, nil
}

// InsertReceipt records the outcome of one submission by uuid.
func (s *Store) InsertReceipt(ctx context.Context, receipt storage.SubmissionReceipt) error {
	if err := s.ready(); err != nil {
		return err
	}
	uniqueID := strings.TrimSpace(receipt.UniqueID)
	if uniqueID == "" {
		return nil
	}
	if receipt.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO submission_receipts (unique_id, kind, status, record_id, notice, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(unique_id) DO UPDATE SET
	status = excluded.status,
	record_id = excluded.record_id,
	notice = excluded.notice
`, uniqueID, receipt.Kind, receipt.Status, receipt.RecordID, receipt.Notice, toMillis(receipt.CreatedAt)); err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ReceiptByUniqueID loads the recorded outcome for one submission uuid.
func (s *Store) ReceiptByUniqueID(ctx context.Context, uniqueID string) (storage.SubmissionReceipt, error) {
	if err := s.ready(); err != nil {
		return storage.SubmissionReceipt{}, err
	}
	var receipt storage.SubmissionReceipt
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT unique_id, kind, status, record_id, notice, created_at
FROM submission_receipts
WHERE unique_id = ?
`, strings.TrimSpace(uniqueID)).Scan(
		&receipt.UniqueID, &receipt.Kind, &receipt.Status, &receipt.RecordID, &receipt.Notice, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SubmissionReceipt{}, storage.ErrNotFound
		}
		return storage.SubmissionReceipt{}, fmt.Errorf("get receipt: %w", err)
	}
	receipt.CreatedAt = fromMillis(createdAt)
	return receipt, nil
}

// TopNPCs aggregates drop value by NPC for the read-only views.
func (s *Store) TopNPCs(ctx context.Context, partition int, limit int) ([]storage.NPCTotal, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT n.id, n.name, SUM(d.value * d.quantity) AS total
FROM drops d
JOIN npcs n ON n.id = d.npc_id
WHERE d.month_partition = ?
GROUP BY n.id, n.name
ORDER BY total DESC
LIMIT ?
`, partition, limit)
	if err != nil {
		return nil, fmt.Errorf("aggregate top npcs: %w", err)
	}
	defer rows.Close()

	var totals []storage.NPCTotal
	for rows.Next() {
		var total storage.NPCTotal
		if err := rows.Scan(&total.NPCID, &total.Name, &total.TotalValue); err != nil {
			return nil, fmt.Errorf("scan npc total: %w", err)
		}
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate npc totals: %w", err)
	}
	return totals, nil
}
