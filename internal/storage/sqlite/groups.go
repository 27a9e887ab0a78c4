package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

func scanGroup(scan scanner) (storage.Group, error) {
	var group storage.Group
	var externalGroupID sql.NullInt64
	if err := scan(
		&group.ID,
		&group.Name,
		&externalGroupID,
		&group.Description,
		&group.Icon,
		&group.Invite,
	); err != nil {
		return storage.Group{}, err
	}
	group.ExternalGroupID = int64Ptr(externalGroupID)
	return group, nil
}

// GroupByID loads one group row.
func (s *Store) GroupByID(ctx context.Context, groupID int64) (storage.Group, error) {
	if err := s.ready(); err != nil {
		return storage.Group{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, external_group_id, description, icon, invite
FROM groups
WHERE id = ?
`, groupID)
	group, err := scanGroup(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Group{}, storage.ErrNotFound
		}
		return storage.Group{}, fmt.Errorf("get group: %w", err)
	}
	return group, nil
}

// CreateGroup inserts one group row. The id may be pre-assigned (the global
// group is created with a fixed id).
func (s *Store) CreateGroup(ctx context.Context, group storage.Group) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	name := strings.TrimSpace(group.Name)
	if name == "" {
		return 0, fmt.Errorf("group name is required")
	}
	var result sql.Result
	var err error
	if group.ID > 0 {
		result, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO groups (id, name, external_group_id, description, icon, invite)
VALUES (?, ?, ?, ?, ?, ?)
`, group.ID, name, nullInt64(group.ExternalGroupID), group.Description, group.Icon, group.Invite)
	} else {
		result, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO groups (name, external_group_id, description, icon, invite)
VALUES (?, ?, ?, ?, ?)
`, name, nullInt64(group.ExternalGroupID), group.Description, group.Icon, group.Invite)
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert group: %w", err)
	}
	groupID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("group insert id: %w", err)
	}
	return groupID, nil
}

// GroupsForPlayer lists every group the player is a member of.
func (s *Store) GroupsForPlayer(ctx context.Context, playerID int64) ([]storage.Group, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT g.id, g.name, g.external_group_id, g.description, g.icon, g.invite
FROM groups g
JOIN group_members m ON m.group_id = g.id
WHERE m.player_id = ?
ORDER BY g.id
`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list groups for player: %w", err)
	}
	defer rows.Close()

	var groups []storage.Group
	for rows.Next() {
		group, scanErr := scanGroup(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan group row: %w", scanErr)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}
	return groups, nil
}

// GroupsWithExternalID lists groups linked to an external roster.
func (s *Store) GroupsWithExternalID(ctx context.Context) ([]storage.Group, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, external_group_id, description, icon, invite
FROM groups
WHERE external_group_id IS NOT NULL
ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("list external groups: %w", err)
	}
	defer rows.Close()

	var groups []storage.Group
	for rows.Next() {
		group, scanErr := scanGroup(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan group row: %w", scanErr)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}
	return groups, nil
}

// GroupMembers lists the players belonging to a group.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]storage.Player, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT p.id, p.external_id, p.account_hash, p.display_name, p.owner_user_id,
p.total_level, p.collection_log_slots, p.hidden, p.created_at, p.updated_at
FROM players p
JOIN group_members m ON m.player_id = p.id
WHERE m.group_id = ?
ORDER BY p.id
`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var players []storage.Player
	for rows.Next() {
		player, scanErr := scanPlayer(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan player row: %w", scanErr)
		}
		players = append(players, player)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate player rows: %w", err)
	}
	return players, nil
}

// EnsureMembership adds a (player, group) association if missing and
// reports whether a row was actually inserted.
func (s *Store) EnsureMembership(ctx context.Context, playerID, groupID int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO group_members (player_id, group_id) VALUES (?, ?)
`, playerID, groupID)
	if err != nil {
		return false, fmt.Errorf("ensure membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure membership rows affected: %w", err)
	}
	return affected > 0, nil
}

// RemoveMembership drops a (player, group) association. Removing global
// membership is refused.
func (s *Store) RemoveMembership(ctx context.Context, playerID, groupID int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if groupID == storage.GlobalGroupID {
		return fmt.Errorf("global group membership cannot be removed")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM group_members WHERE player_id = ? AND group_id = ?
`, playerID, groupID); err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}

// EnsureGlobalMemberships re-enrolls any player missing from the global
// group and returns how many rows were repaired.
func (s *Store) EnsureGlobalMemberships(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO group_members (player_id, group_id)
SELECT id, ? FROM players
`, storage.GlobalGroupID)
	if err != nil {
		return 0, fmt.Errorf("repair global memberships: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repair global memberships rows affected: %w", err)
	}
	return affected, nil
}

// IsGroupMember reports whether the player belongs to the group.
func (s *Store) IsGroupMember(ctx context.Context, playerID, groupID int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT 1 FROM group_members WHERE player_id = ? AND group_id = ?
`, playerID, groupID).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// GroupConfig loads every configuration row for a group.
func (s *Store) GroupConfig(ctx context.Context, groupID int64) ([]storage.GroupConfigEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT group_id, key, value
FROM group_config
WHERE group_id = ?
ORDER BY key
`, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group config: %w", err)
	}
	defer rows.Close()

	var entries []storage.GroupConfigEntry
	for rows.Next() {
		var entry storage.GroupConfigEntry
		if err := rows.Scan(&entry.GroupID, &entry.Key, &entry.Value); err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config rows: %w", err)
	}
	return entries, nil
}

// SetGroupConfig upserts one configuration key for a group.
func (s *Store) SetGroupConfig(ctx context.Context, entry storage.GroupConfigEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	key := strings.TrimSpace(entry.Key)
	if key == "" {
		return fmt.Errorf("config key is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO group_config (group_id, key, value) VALUES (?, ?, ?)
ON CONFLICT(group_id, key) DO UPDATE SET value = excluded.value
`, entry.GroupID, key, entry.Value); err != nil {
		return fmt.Errorf("set group config: %w", err)
	}
	return nil
}

// SearchGroups finds groups whose name contains the query, case-insensitively.
func (s *Store) SearchGroups(ctx context.Context, query string, limit int) ([]storage.Group, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, external_group_id, description, icon, invite
FROM groups
WHERE name LIKE ? COLLATE NOCASE
ORDER BY name
LIMIT ?
`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search groups: %w", err)
	}
	defer rows.Close()

	var groups []storage.Group
	for rows.Next() {
		group, scanErr := scanGroup(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan group row: %w", scanErr)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}
	return groups, nil
}

// SearchPlayers finds players whose display name contains the query.
func (s *Store) SearchPlayers(ctx context.Context, query string, limit int) ([]storage.Player, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+playerColumns+`
FROM players
WHERE display_name LIKE ? COLLATE NOCASE AND hidden = 0
ORDER BY display_name
LIMIT ?
`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search players: %w", err)
	}
	defer rows.Close()

	var players []storage.Player
	for rows.Next() {
		player, scanErr := scanPlayer(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan player row: %w", scanErr)
		}
		players = append(players, player)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate player rows: %w", err)
	}
	return players, nil
}
