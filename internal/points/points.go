// Package points implements the append-only points ledger: credits earned
// from submissions, FIFO-by-expiry spending, premium feature activations,
// and recurring monthly grants.
package points

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/platform/id"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// TxOps is one open ledger transaction.
type TxOps interface {
	EligibleCredits(ctx context.Context, playerID, groupID *int64, now time.Time) ([]storage.PointCredit, error)
	DecrementCredit(ctx context.Context, creditID, by int64) error
	InsertDebit(ctx context.Context, debit storage.PointDebit) (int64, error)
	InsertActivation(ctx context.Context, activation storage.FeatureActivation) error
	AttachActivation(ctx context.Context, debitID int64, activationID string) error
	Commit() error
	Rollback() error
}

// Store is the persistence surface behind the ledger.
type Store interface {
	Begin(ctx context.Context) (TxOps, error)
	FeatureByKey(ctx context.Context, key string) (storage.PremiumFeature, error)
	InsertCredit(ctx context.Context, credit storage.PointCredit) (int64, error)
	ExpireCredits(ctx context.Context, now time.Time) (int64, error)
	ExpireActivations(ctx context.Context, now time.Time) (int64, error)
	HasActiveActivation(ctx context.Context, featureID int64, playerID, groupID *int64) (bool, error)
	IsGroupMember(ctx context.Context, playerID, groupID int64) (bool, error)
	DueGrants(ctx context.Context, now time.Time) ([]storage.RecurringPointGrant, error)
	AdvanceGrant(ctx context.Context, grantID int64, grantedAt, nextDueAt time.Time) error
}

// Service coordinates ledger operations.
type Service struct {
	store Store
	clock func() time.Time
	newID func() (string, error)
}

// NewService builds a ledger service. Nil clock and newID use the defaults.
func NewService(store Store, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{store: store, clock: clock, newID: newID}
}

// AllocateCredits plans how a spend of amount is funded from the given
// credits, which must already be in consumption order. It never mutates;
// callers apply the returned allocations inside a transaction.
func AllocateCredits(credits []storage.PointCredit, amount int64) ([]storage.Allocation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("allocation amount must be positive")
	}
	var allocations []storage.Allocation
	remaining := amount
	for _, credit := range credits {
		if remaining == 0 {
			break
		}
		if credit.Remaining <= 0 {
			continue
		}
		take := credit.Remaining
		if take > remaining {
			take = remaining
		}
		allocations = append(allocations, storage.Allocation{CreditID: credit.ID, Amount: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, storage.ErrInsufficientPoints
	}
	return allocations, nil
}

// AwardPlayer credits a player. A zero ttl means the credit never expires.
func (s *Service) AwardPlayer(ctx context.Context, playerID int64, source string, amount int64, ttl time.Duration) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("award amount must be positive")
	}
	now := s.clock()
	credit := storage.PointCredit{
		PlayerID: &playerID,
		Source:   source,
		Amount:   amount,
		EarnedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		credit.ExpiresAt = &expiresAt
	}
	return s.store.InsertCredit(ctx, credit)
}

// AwardGroup credits a group. A zero ttl means the credit never expires.
func (s *Service) AwardGroup(ctx context.Context, groupID int64, source string, amount int64, ttl time.Duration) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("award amount must be positive")
	}
	now := s.clock()
	credit := storage.PointCredit{
		GroupID:  &groupID,
		Source:   source,
		Amount:   amount,
		EarnedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		credit.ExpiresAt = &expiresAt
	}
	return s.store.InsertCredit(ctx, credit)
}

// ActivateForPlayer buys a player-scoped feature from the player's credits.
func (s *Service) ActivateForPlayer(ctx context.Context, playerID int64, featureKey string, autoRenew bool) (storage.FeatureActivation, error) {
	feature, err := s.store.FeatureByKey(ctx, featureKey)
	if err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("load feature %q: %w", featureKey, err)
	}
	if feature.Scope == storage.FeatureScopeGroup {
		return storage.FeatureActivation{}, fmt.Errorf("feature %q is group scoped", featureKey)
	}
	if !feature.AllowMultiple {
		active, err := s.store.HasActiveActivation(ctx, feature.ID, &playerID, nil)
		if err != nil {
			return storage.FeatureActivation{}, fmt.Errorf("check existing activation: %w", err)
		}
		if active {
			return storage.FeatureActivation{}, storage.ErrConflict
		}
	}
	return s.activate(ctx, feature, &playerID, nil, &playerID, autoRenew)
}

// ActivateForGroup buys a group-scoped feature from the group's credits.
// When a spender is supplied and is a verified member, their personal
// credits join the eligible pool in consumption order; a non-member
// spender funds from group credits alone.
func (s *Service) ActivateForGroup(ctx context.Context, groupID int64, spenderPlayerID *int64, featureKey string, autoRenew bool) (storage.FeatureActivation, error) {
	spender := spenderPlayerID
	if spender != nil {
		member, err := s.store.IsGroupMember(ctx, *spender, groupID)
		if err != nil {
			return storage.FeatureActivation{}, fmt.Errorf("check membership: %w", err)
		}
		if !member {
			spender = nil
		}
	}
	feature, err := s.store.FeatureByKey(ctx, featureKey)
	if err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("load feature %q: %w", featureKey, err)
	}
	if feature.Scope == storage.FeatureScopePlayer {
		return storage.FeatureActivation{}, fmt.Errorf("feature %q is player scoped", featureKey)
	}
	if !feature.AllowMultiple {
		active, err := s.store.HasActiveActivation(ctx, feature.ID, nil, &groupID)
		if err != nil {
			return storage.FeatureActivation{}, fmt.Errorf("check existing activation: %w", err)
		}
		if active {
			return storage.FeatureActivation{}, storage.ErrConflict
		}
	}
	return s.activate(ctx, feature, nil, &groupID, spender, autoRenew)
}

// activate runs the funded-activation transaction: plan allocations over
// eligible credits, decrement each, record the debit, and open the
// activation window. A nil spender funds from group credits only.
func (s *Service) activate(ctx context.Context, feature storage.PremiumFeature, playerID, groupID, spenderPlayerID *int64, autoRenew bool) (storage.FeatureActivation, error) {
	now := s.clock()
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("begin activation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	creditPlayer := playerID
	if creditPlayer == nil {
		creditPlayer = spenderPlayerID
	}
	credits, err := tx.EligibleCredits(ctx, creditPlayer, groupID, now)
	if err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("load eligible credits: %w", err)
	}
	allocations, err := AllocateCredits(credits, feature.CostPoints)
	if err != nil {
		return storage.FeatureActivation{}, err
	}
	for _, allocation := range allocations {
		if err := tx.DecrementCredit(ctx, allocation.CreditID, allocation.Amount); err != nil {
			return storage.FeatureActivation{}, fmt.Errorf("decrement credit %d: %w", allocation.CreditID, err)
		}
	}

	activationID, err := s.newID()
	if err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("generate activation id: %w", err)
	}
	activation := storage.FeatureActivation{
		ID:        activationID,
		PlayerID:  playerID,
		GroupID:   groupID,
		FeatureID: feature.ID,
		StartAt:   now,
		EndAt:     now.AddDate(0, 0, feature.DurationDays),
		AutoRenew: autoRenew,
		Status:    storage.ActivationActive,
	}
	if err := tx.InsertActivation(ctx, activation); err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("insert activation: %w", err)
	}

	debitID, err := tx.InsertDebit(ctx, storage.PointDebit{
		PlayerID:        playerID,
		GroupID:         groupID,
		SpentByPlayerID: spenderPlayerID,
		Amount:          feature.CostPoints,
		Reason:          storage.DebitFeatureActivation,
		Allocations:     allocations,
		ActivationID:    activationID,
		CreatedAt:       now,
	})
	if err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("insert debit: %w", err)
	}
	if err := tx.AttachActivation(ctx, debitID, activationID); err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("attach activation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.FeatureActivation{}, fmt.Errorf("commit activation: %w", err)
	}
	return activation, nil
}

// ExpireSweep transitions overdue credits and activations. Run periodically.
func (s *Service) ExpireSweep(ctx context.Context) error {
	now := s.clock()
	credits, err := s.store.ExpireCredits(ctx, now)
	if err != nil {
		return fmt.Errorf("expire credits: %w", err)
	}
	activations, err := s.store.ExpireActivations(ctx, now)
	if err != nil {
		return fmt.Errorf("expire activations: %w", err)
	}
	if credits > 0 || activations > 0 {
		log.Printf("points: expired %d credits, %d activations", credits, activations)
	}
	return nil
}

// RunRecurringGrants credits every due monthly grant and schedules the next
// period, clamped to month ends.
func (s *Service) RunRecurringGrants(ctx context.Context) error {
	now := s.clock()
	grants, err := s.store.DueGrants(ctx, now)
	if err != nil {
		return fmt.Errorf("list due grants: %w", err)
	}
	for _, grant := range grants {
		credit := storage.PointCredit{
			PlayerID: &grant.PlayerID,
			Source:   grant.Source,
			Amount:   grant.AmountPerPeriod,
			EarnedAt: now,
		}
		if _, err := s.store.InsertCredit(ctx, credit); err != nil {
			return fmt.Errorf("credit grant %d: %w", grant.ID, err)
		}
		nextDue := domain.NextMonth(now)
		if grant.NextDueAt != nil {
			next := domain.NextMonth(*grant.NextDueAt)
			if next.After(now) {
				nextDue = next
			}
		}
		if err := s.store.AdvanceGrant(ctx, grant.ID, now, nextDue); err != nil {
			return fmt.Errorf("advance grant %d: %w", grant.ID, err)
		}
	}
	return nil
}

// IsInsufficient reports whether the error is an underfunded spend.
func IsInsufficient(err error) bool {
	return errors.Is(err, storage.ErrInsufficientPoints)
}
