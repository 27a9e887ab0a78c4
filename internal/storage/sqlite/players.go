package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

const playerColumns = `id, external_id, account_hash, display_name, owner_user_id,
total_level, collection_log_slots, hidden, created_at, updated_at`

func scanPlayer(scan scanner) (storage.Player, error) {
	var player storage.Player
	var accountHash sql.NullString
	var ownerUserID sql.NullInt64
	var hidden int
	var createdAt, updatedAt int64
	if err := scan(
		&player.ID,
		&player.ExternalID,
		&accountHash,
		&player.DisplayName,
		&ownerUserID,
		&player.TotalLevel,
		&player.CollectionLogSlots,
		&hidden,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Player{}, err
	}
	player.AccountHash = accountHash.String
	player.OwnerUserID = int64Ptr(ownerUserID)
	player.Hidden = hidden != 0
	player.CreatedAt = fromMillis(createdAt)
	player.UpdatedAt = fromMillis(updatedAt)
	return player, nil
}

// PlayerByID loads one player row.
func (s *Store) PlayerByID(ctx context.Context, playerID int64) (storage.Player, error) {
	if err := s.ready(); err != nil {
		return storage.Player{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+playerColumns+`
FROM players
WHERE id = ?
`, playerID)
	player, err := scanPlayer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Player{}, storage.ErrNotFound
		}
		return storage.Player{}, fmt.Errorf("get player by id: %w", err)
	}
	return player, nil
}

// PlayerByAccountHash loads the player bound to an account hash.
func (s *Store) PlayerByAccountHash(ctx context.Context, accountHash string) (storage.Player, error) {
	if err := s.ready(); err != nil {
		return storage.Player{}, err
	}
	accountHash = strings.TrimSpace(accountHash)
	if accountHash == "" {
		return storage.Player{}, storage.ErrNotFound
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+playerColumns+`
FROM players
WHERE account_hash = ?
`, accountHash)
	player, err := scanPlayer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Player{}, storage.ErrNotFound
		}
		return storage.Player{}, fmt.Errorf("get player by account hash: %w", err)
	}
	return player, nil
}

// PlayerByDisplayName loads a player by display-name equivalence.
func (s *Store) PlayerByDisplayName(ctx context.Context, displayName string) (storage.Player, error) {
	if err := s.ready(); err != nil {
		return storage.Player{}, err
	}
	normalized := domain.NormalizeDisplayName(displayName)
	if normalized == "" {
		return storage.Player{}, storage.ErrNotFound
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+playerColumns+`
FROM players
WHERE normalized_name = ?
`, normalized)
	player, err := scanPlayer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Player{}, storage.ErrNotFound
		}
		return storage.Player{}, fmt.Errorf("get player by display name: %w", err)
	}
	return player, nil
}

// CreatePlayer inserts one player row and enrolls it in the global group.
func (s *Store) CreatePlayer(ctx context.Context, player storage.Player) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	displayName := strings.TrimSpace(player.DisplayName)
	if displayName == "" {
		return 0, fmt.Errorf("display name is required")
	}
	if player.CreatedAt.IsZero() {
		return 0, fmt.Errorf("created_at is required")
	}
	if player.UpdatedAt.IsZero() {
		player.UpdatedAt = player.CreatedAt
	}

	var accountHash sql.NullString
	if trimmed := strings.TrimSpace(player.AccountHash); trimmed != "" {
		accountHash = sql.NullString{String: trimmed, Valid: true}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create player: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
INSERT INTO players (
	external_id, account_hash, display_name, normalized_name, owner_user_id,
	total_level, collection_log_slots, hidden, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		player.ExternalID,
		accountHash,
		displayName,
		domain.NormalizeDisplayName(displayName),
		nullInt64(player.OwnerUserID),
		player.TotalLevel,
		player.CollectionLogSlots,
		boolToInt(player.Hidden),
		toMillis(player.CreatedAt),
		toMillis(player.UpdatedAt),
	)
	if err != nil {
		_ = tx.Rollback()
		if isUniqueConstraintError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert player: %w", err)
	}
	playerID, err := result.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("player insert id: %w", err)
	}
	// Global membership is an invariant for every player.
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO group_members (player_id, group_id) VALUES (?, ?)
`, playerID, storage.GlobalGroupID); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("enroll player in global group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create player: %w", err)
	}
	return playerID, nil
}

// UpdatePlayerDisplayName reconciles a player's display name.
func (s *Store) UpdatePlayerDisplayName(ctx context.Context, playerID int64, displayName string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return fmt.Errorf("display name is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE players
SET display_name = ?, normalized_name = ?, updated_at = ?
WHERE id = ?
`, displayName, domain.NormalizeDisplayName(displayName), toMillis(at), playerID)
	if err != nil {
		return fmt.Errorf("update player display name: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update player display name rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// BindAccountHash binds an account hash to a previously unbound player.
func (s *Store) BindAccountHash(ctx context.Context, playerID int64, accountHash string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	accountHash = strings.TrimSpace(accountHash)
	if accountHash == "" {
		return fmt.Errorf("account hash is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE players
SET account_hash = ?, updated_at = ?
WHERE id = ? AND account_hash IS NULL
`, accountHash, toMillis(at), playerID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("bind account hash: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind account hash rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// UserByID loads one registered user.
func (s *Store) UserByID(ctx context.Context, userID int64) (storage.User, error) {
	if err := s.ready(); err != nil {
		return storage.User{}, err
	}
	var user storage.User
	var drops, clogs, pbs, cas, pets, nameChanges int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, auth_token, dm_drops, dm_clogs, dm_pbs, dm_cas, dm_pets, dm_name_changes
FROM users
WHERE id = ?
`, userID).Scan(&user.ID, &user.AuthToken, &drops, &clogs, &pbs, &cas, &pets, &nameChanges)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	user.DMDrops = drops != 0
	user.DMClogs = clogs != 0
	user.DMPBs = pbs != 0
	user.DMCAs = cas != 0
	user.DMPets = pets != 0
	user.DMNameChanges = nameChanges != 0
	return user, nil
}

// CreateUser inserts one registered user row.
func (s *Store) CreateUser(ctx context.Context, user storage.User) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (auth_token, dm_drops, dm_clogs, dm_pbs, dm_cas, dm_pets, dm_name_changes)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, user.AuthToken, boolToInt(user.DMDrops), boolToInt(user.DMClogs), boolToInt(user.DMPBs),
		boolToInt(user.DMCAs), boolToInt(user.DMPets), boolToInt(user.DMNameChanges))
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	userID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user insert id: %w", err)
	}
	return userID, nil
}
