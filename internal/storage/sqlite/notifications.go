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

// InsertNotification appends one pending notification row. A duplicate
// (kind, player, group, payload) returns ErrConflict. A nil group is stored
// as group 0 so the uniqueness constraint still applies.
func (s *Store) InsertNotification(ctx context.Context, n storage.Notification) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("notification id is required")
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if n.Status == "" {
		n.Status = storage.NotificationPending
	}
	var groupID int64
	if n.GroupID != nil {
		groupID = *n.GroupID
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO notifications (id, kind, player_id, group_id, payload_json, status, created_at, processed_at, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, n.ID, n.Kind, n.PlayerID, groupID, n.PayloadJSON, n.Status,
		toMillis(n.CreatedAt), nullMillis(n.ProcessedAt), n.LastError); err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

const notificationColumns = `id, kind, player_id, group_id, payload_json, status, created_at, processed_at, last_error`

func scanNotification(scan scanner) (storage.Notification, error) {
	var n storage.Notification
	var groupID int64
	var createdAt int64
	var processedAt sql.NullInt64
	if err := scan(&n.ID, &n.Kind, &n.PlayerID, &groupID, &n.PayloadJSON,
		&n.Status, &createdAt, &processedAt, &n.LastError); err != nil {
		return storage.Notification{}, err
	}
	if groupID != 0 {
		n.GroupID = &groupID
	}
	n.CreatedAt = fromMillis(createdAt)
	n.ProcessedAt = timePtr(processedAt)
	return n, nil
}

// PendingNotifications lists pending rows oldest first.
func (s *Store) PendingNotifications(ctx context.Context, limit int) ([]storage.Notification, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+notificationColumns+`
FROM notifications
WHERE status = ?
ORDER BY created_at ASC, id ASC
LIMIT ?
`, storage.NotificationPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	defer rows.Close()

	var pending []storage.Notification
	for rows.Next() {
		n, scanErr := scanNotification(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan notification row: %w", scanErr)
		}
		pending = append(pending, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}
	return pending, nil
}

// MarkNotification records the delivery outcome for one notification.
func (s *Store) MarkNotification(ctx context.Context, id, status, lastError string, processedAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE notifications
SET status = ?, last_error = ?, processed_at = ?
WHERE id = ?
`, status, lastError, toMillis(processedAt), id)
	if err != nil {
		return fmt.Errorf("mark notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// NotificationExists reports whether an identical notification row already
// exists regardless of status.
func (s *Store) NotificationExists(ctx context.Context, kind string, playerID int64, groupID *int64, payloadJSON string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var gid int64
	if groupID != nil {
		gid = *groupID
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT 1 FROM notifications
WHERE kind = ? AND player_id = ? AND group_id = ? AND payload_json = ?
LIMIT 1
`, kind, playerID, gid, payloadJSON).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("notification lookup: %w", err)
	}
	return true, nil
}
