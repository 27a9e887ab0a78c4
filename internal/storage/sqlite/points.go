package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// FeatureByKey loads one active premium feature definition.
func (s *Store) FeatureByKey(ctx context.Context, key string) (storage.PremiumFeature, error) {
	if err := s.ready(); err != nil {
		return storage.PremiumFeature{}, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.PremiumFeature{}, storage.ErrNotFound
	}
	var feature storage.PremiumFeature
	var allowMultiple, active int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, key, name, scope, cost_points, duration_days, allow_multiple, active
FROM premium_features
WHERE key = ? AND active = 1
`, key).Scan(&feature.ID, &feature.Key, &feature.Name, &feature.Scope,
		&feature.CostPoints, &feature.DurationDays, &allowMultiple, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PremiumFeature{}, storage.ErrNotFound
		}
		return storage.PremiumFeature{}, fmt.Errorf("get feature: %w", err)
	}
	feature.AllowMultiple = allowMultiple != 0
	feature.Active = active != 0
	return feature, nil
}

// InsertFeature inserts one premium feature definition.
func (s *Store) InsertFeature(ctx context.Context, feature storage.PremiumFeature) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO premium_features (key, name, scope, cost_points, duration_days, allow_multiple, active)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, feature.Key, feature.Name, feature.Scope, feature.CostPoints, feature.DurationDays,
		boolToInt(feature.AllowMultiple), boolToInt(feature.Active))
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert feature: %w", err)
	}
	featureID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("feature insert id: %w", err)
	}
	return featureID, nil
}

// InsertCredit appends one point credit.
func (s *Store) InsertCredit(ctx context.Context, credit storage.PointCredit) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if (credit.PlayerID == nil) == (credit.GroupID == nil) {
		return 0, fmt.Errorf("credit must target exactly one of player or group")
	}
	if credit.EarnedAt.IsZero() {
		return 0, fmt.Errorf("earned_at is required")
	}
	if credit.Remaining == 0 {
		credit.Remaining = credit.Amount
	}
	if credit.Status == "" {
		credit.Status = storage.CreditActive
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO point_credits (player_id, group_id, source, amount, remaining, earned_at, expires_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, nullInt64(credit.PlayerID), nullInt64(credit.GroupID), credit.Source, credit.Amount,
		credit.Remaining, toMillis(credit.EarnedAt), nullMillis(credit.ExpiresAt), credit.Status)
	if err != nil {
		return 0, fmt.Errorf("insert credit: %w", err)
	}
	creditID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("credit insert id: %w", err)
	}
	return creditID, nil
}

// ExpireCredits marks active credits whose expiry has passed.
func (s *Store) ExpireCredits(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE point_credits
SET status = ?
WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
`, storage.CreditExpired, storage.CreditActive, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("expire credits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire credits rows affected: %w", err)
	}
	return affected, nil
}

// ExpireActivations marks active feature activations whose end has passed.
func (s *Store) ExpireActivations(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE feature_activations
SET status = ?
WHERE status = ? AND end_at <= ?
`, storage.ActivationExpired, storage.ActivationActive, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("expire activations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire activations rows affected: %w", err)
	}
	return affected, nil
}

// HasActiveActivation reports whether the owner already holds an active
// activation of the feature.
func (s *Store) HasActiveActivation(ctx context.Context, featureID int64, playerID, groupID *int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT 1 FROM feature_activations
WHERE feature_id = ? AND status = ?
  AND ((? IS NOT NULL AND player_id = ?) OR (? IS NOT NULL AND group_id = ?))
LIMIT 1
`, featureID, storage.ActivationActive,
		nullInt64(playerID), nullInt64(playerID), nullInt64(groupID), nullInt64(groupID)).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check active activation: %w", err)
	}
	return true, nil
}

// ActiveGroupFeature reports whether the group has an active activation of
// the feature identified by key.
func (s *Store) ActiveGroupFeature(ctx context.Context, groupID int64, featureKey string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT 1
FROM feature_activations a
JOIN premium_features f ON f.id = a.feature_id
WHERE a.group_id = ? AND a.status = ? AND f.key = ?
LIMIT 1
`, groupID, storage.ActivationActive, featureKey).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check group feature: %w", err)
	}
	return true, nil
}

// PointsTx is one explicit transaction over the points ledger.
type PointsTx struct {
	tx *sql.Tx
}

// BeginPointsTx opens a ledger transaction.
func (s *Store) BeginPointsTx(ctx context.Context) (*PointsTx, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin points transaction: %w", err)
	}
	return &PointsTx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *PointsTx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction.
func (t *PointsTx) Rollback() error {
	return t.tx.Rollback()
}

// EligibleCredits loads the active, unexpired credits spendable by the given
// owners in consumption order: soonest expiry first (null expiry last), then
// earliest earned_at, then id.
func (t *PointsTx) EligibleCredits(ctx context.Context, playerID, groupID *int64, now time.Time) ([]storage.PointCredit, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, player_id, group_id, source, amount, remaining, earned_at, expires_at, status
FROM point_credits
WHERE status = ?
  AND remaining > 0
  AND (expires_at IS NULL OR expires_at > ?)
  AND ((? IS NOT NULL AND player_id = ?) OR (? IS NOT NULL AND group_id = ?))
ORDER BY (expires_at IS NULL) ASC, expires_at ASC, earned_at ASC, id ASC
`, storage.CreditActive, toMillis(now),
		nullInt64(playerID), nullInt64(playerID), nullInt64(groupID), nullInt64(groupID))
	if err != nil {
		return nil, fmt.Errorf("list eligible credits: %w", err)
	}
	defer rows.Close()

	var credits []storage.PointCredit
	for rows.Next() {
		var credit storage.PointCredit
		var pid, gid, expiresAt sql.NullInt64
		var earnedAt int64
		if err := rows.Scan(&credit.ID, &pid, &gid, &credit.Source, &credit.Amount,
			&credit.Remaining, &earnedAt, &expiresAt, &credit.Status); err != nil {
			return nil, fmt.Errorf("scan credit row: %w", err)
		}
		credit.PlayerID = int64Ptr(pid)
		credit.GroupID = int64Ptr(gid)
		credit.EarnedAt = fromMillis(earnedAt)
		credit.ExpiresAt = timePtr(expiresAt)
		credits = append(credits, credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit rows: %w", err)
	}
	return credits, nil
}

// DecrementCredit reduces one credit's remaining balance.
func (t *PointsTx) DecrementCredit(ctx context.Context, creditID, by int64) error {
	result, err := t.tx.ExecContext(ctx, `
UPDATE point_credits
SET remaining = remaining - ?
WHERE id = ? AND remaining >= ?
`, by, creditID, by)
	if err != nil {
		return fmt.Errorf("decrement credit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement credit rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// InsertDebit records one spend with its allocation breakdown.
func (t *PointsTx) InsertDebit(ctx context.Context, debit storage.PointDebit) (int64, error) {
	if (debit.PlayerID == nil) == (debit.GroupID == nil) {
		return 0, fmt.Errorf("debit must target exactly one of player or group")
	}
	allocations, err := json.Marshal(debit.Allocations)
	if err != nil {
		return 0, fmt.Errorf("marshal allocations: %w", err)
	}
	result, err := t.tx.ExecContext(ctx, `
INSERT INTO point_debits (player_id, group_id, spent_by_player_id, amount, reason, allocations_json, activation_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, nullInt64(debit.PlayerID), nullInt64(debit.GroupID), nullInt64(debit.SpentByPlayerID),
		debit.Amount, debit.Reason, string(allocations), debit.ActivationID, toMillis(debit.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert debit: %w", err)
	}
	debitID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("debit insert id: %w", err)
	}
	return debitID, nil
}

// InsertActivation records one feature activation.
func (t *PointsTx) InsertActivation(ctx context.Context, activation storage.FeatureActivation) error {
	if (activation.PlayerID == nil) == (activation.GroupID == nil) {
		return fmt.Errorf("activation must target exactly one of player or group")
	}
	if strings.TrimSpace(activation.ID) == "" {
		return fmt.Errorf("activation id is required")
	}
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO feature_activations (id, player_id, group_id, feature_id, start_at, end_at, auto_renew, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, activation.ID, nullInt64(activation.PlayerID), nullInt64(activation.GroupID), activation.FeatureID,
		toMillis(activation.StartAt), toMillis(activation.EndAt), boolToInt(activation.AutoRenew), activation.Status); err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert activation: %w", err)
	}
	return nil
}

// AttachActivation links a debit to the activation it funded.
func (t *PointsTx) AttachActivation(ctx context.Context, debitID int64, activationID string) error {
	if _, err := t.tx.ExecContext(ctx, `
UPDATE point_debits SET activation_id = ? WHERE id = ?
`, activationID, debitID); err != nil {
		return fmt.Errorf("attach activation: %w", err)
	}
	return nil
}

// InsertGrant inserts one recurring grant row.
func (s *Store) InsertGrant(ctx context.Context, grant storage.RecurringPointGrant) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO recurring_grants (player_id, source, external_ref, amount_per_period, last_granted_at, next_due_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, grant.PlayerID, grant.Source, grant.ExternalRef, grant.AmountPerPeriod,
		nullMillis(grant.LastGrantedAt), nullMillis(grant.NextDueAt), grant.Status)
	if err != nil {
		return 0, fmt.Errorf("insert grant: %w", err)
	}
	grantID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("grant insert id: %w", err)
	}
	return grantID, nil
}

// DueGrants lists active monthly grants that are due, in (next_due_at, id)
// order.
func (s *Store) DueGrants(ctx context.Context, now time.Time) ([]storage.RecurringPointGrant, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, player_id, source, external_ref, amount_per_period, last_granted_at, next_due_at, status
FROM recurring_grants
WHERE status = ? AND next_due_at IS NOT NULL AND next_due_at <= ?
ORDER BY next_due_at ASC, id ASC
`, storage.GrantActive, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list due grants: %w", err)
	}
	defer rows.Close()

	var grants []storage.RecurringPointGrant
	for rows.Next() {
		var grant storage.RecurringPointGrant
		var lastGrantedAt, nextDueAt sql.NullInt64
		if err := rows.Scan(&grant.ID, &grant.PlayerID, &grant.Source, &grant.ExternalRef,
			&grant.AmountPerPeriod, &lastGrantedAt, &nextDueAt, &grant.Status); err != nil {
			return nil, fmt.Errorf("scan grant row: %w", err)
		}
		grant.LastGrantedAt = timePtr(lastGrantedAt)
		grant.NextDueAt = timePtr(nextDueAt)
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grant rows: %w", err)
	}
	return grants, nil
}

// AdvanceGrant records one granted period and schedules the next.
func (s *Store) AdvanceGrant(ctx context.Context, grantID int64, grantedAt, nextDueAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE recurring_grants
SET last_granted_at = ?, next_due_at = ?
WHERE id = ?
`, toMillis(grantedAt), toMillis(nextDueAt), grantID)
	if err != nil {
		return fmt.Errorf("advance grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance grant rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateGrantAmount changes a grant's per-period amount. Upgrades become due
// immediately.
func (s *Store) UpdateGrantAmount(ctx context.Context, grantID, amount int64, now time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	var current int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT amount_per_period FROM recurring_grants WHERE id = ?`, grantID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load grant amount: %w", err)
	}
	if amount > current {
		_, err = s.sqlDB.ExecContext(ctx, `
UPDATE recurring_grants SET amount_per_period = ?, next_due_at = ? WHERE id = ?
`, amount, toMillis(now), grantID)
	} else {
		_, err = s.sqlDB.ExecContext(ctx, `
UPDATE recurring_grants SET amount_per_period = ? WHERE id = ?
`, amount, grantID)
	}
	if err != nil {
		return fmt.Errorf("update grant amount: %w", err)
	}
	return nil
}
