package points

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

type fakeLedger struct {
	credits     []storage.PointCredit
	features    map[string]storage.PremiumFeature
	activations []storage.FeatureActivation
	debits      []storage.PointDebit
	grants      []storage.RecurringPointGrant
	members     map[string]bool

	nextCreditID int64
	commits      int
	rollbacks    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		features:     make(map[string]storage.PremiumFeature),
		members:      make(map[string]bool),
		nextCreditID: 1,
	}
}

func (f *fakeLedger) Begin(context.Context) (TxOps, error) {
	return &fakeTx{ledger: f}, nil
}

func (f *fakeLedger) FeatureByKey(_ context.Context, key string) (storage.PremiumFeature, error) {
	if feature, ok := f.features[key]; ok {
		return feature, nil
	}
	return storage.PremiumFeature{}, storage.ErrNotFound
}

func (f *fakeLedger) InsertCredit(_ context.Context, credit storage.PointCredit) (int64, error) {
	credit.ID = f.nextCreditID
	f.nextCreditID++
	if credit.Remaining == 0 {
		credit.Remaining = credit.Amount
	}
	if credit.Status == "" {
		credit.Status = storage.CreditActive
	}
	f.credits = append(f.credits, credit)
	return credit.ID, nil
}

func (f *fakeLedger) ExpireCredits(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for i := range f.credits {
		c := &f.credits[i]
		if c.Status == storage.CreditActive && c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			c.Status = storage.CreditExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) ExpireActivations(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for i := range f.activations {
		a := &f.activations[i]
		if a.Status == storage.ActivationActive && !a.EndAt.After(now) {
			a.Status = storage.ActivationExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) HasActiveActivation(_ context.Context, featureID int64, playerID, groupID *int64) (bool, error) {
	for _, a := range f.activations {
		if a.FeatureID != featureID || a.Status != storage.ActivationActive {
			continue
		}
		if playerID != nil && a.PlayerID != nil && *a.PlayerID == *playerID {
			return true, nil
		}
		if groupID != nil && a.GroupID != nil && *a.GroupID == *groupID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) IsGroupMember(_ context.Context, playerID, groupID int64) (bool, error) {
	return f.members[fmt.Sprintf("%d:%d", playerID, groupID)], nil
}

func (f *fakeLedger) DueGrants(_ context.Context, now time.Time) ([]storage.RecurringPointGrant, error) {
	var due []storage.RecurringPointGrant
	for _, g := range f.grants {
		if g.Status == storage.GrantActive && g.NextDueAt != nil && !g.NextDueAt.After(now) {
			due = append(due, g)
		}
	}
	return due, nil
}

func (f *fakeLedger) AdvanceGrant(_ context.Context, grantID int64, grantedAt, nextDueAt time.Time) error {
	for i := range f.grants {
		if f.grants[i].ID == grantID {
			granted, next := grantedAt, nextDueAt
			f.grants[i].LastGrantedAt = &granted
			f.grants[i].NextDueAt = &next
			return nil
		}
	}
	return storage.ErrNotFound
}

type fakeTx struct {
	ledger    *fakeLedger
	decrement map[int64]int64
	debits    []storage.PointDebit
	acts      []storage.FeatureActivation
	done      bool
}

func (t *fakeTx) EligibleCredits(_ context.Context, playerID, groupID *int64, now time.Time) ([]storage.PointCredit, error) {
	var eligible []storage.PointCredit
	for _, c := range t.ledger.credits {
		if c.Status != storage.CreditActive || c.Remaining <= 0 {
			continue
		}
		if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			continue
		}
		owned := (playerID != nil && c.PlayerID != nil && *c.PlayerID == *playerID) ||
			(groupID != nil && c.GroupID != nil && *c.GroupID == *groupID)
		if owned {
			eligible = append(eligible, c)
		}
	}
	// Consumption order: soonest expiry first, null expiry last.
	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			if creditBefore(eligible[j], eligible[i]) {
				eligible[i], eligible[j] = eligible[j], eligible[i]
			}
		}
	}
	return eligible, nil
}

func creditBefore(a, b storage.PointCredit) bool {
	switch {
	case a.ExpiresAt == nil && b.ExpiresAt != nil:
		return false
	case a.ExpiresAt != nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
		return a.ExpiresAt.Before(*b.ExpiresAt)
	case !a.EarnedAt.Equal(b.EarnedAt):
		return a.EarnedAt.Before(b.EarnedAt)
	default:
		return a.ID < b.ID
	}
}

func (t *fakeTx) DecrementCredit(_ context.Context, creditID, by int64) error {
	if t.decrement == nil {
		t.decrement = make(map[int64]int64)
	}
	for _, c := range t.ledger.credits {
		if c.ID == creditID {
			if c.Remaining-t.decrement[creditID] < by {
				return storage.ErrConflict
			}
			t.decrement[creditID] += by
			return nil
		}
	}
	return storage.ErrNotFound
}

func (t *fakeTx) InsertDebit(_ context.Context, debit storage.PointDebit) (int64, error) {
	debit.ID = int64(len(t.debits) + 1)
	t.debits = append(t.debits, debit)
	return debit.ID, nil
}

func (t *fakeTx) InsertActivation(_ context.Context, activation storage.FeatureActivation) error {
	t.acts = append(t.acts, activation)
	return nil
}

func (t *fakeTx) AttachActivation(context.Context, int64, string) error { return nil }

func (t *fakeTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	for id, by := range t.decrement {
		for i := range t.ledger.credits {
			if t.ledger.credits[i].ID == id {
				t.ledger.credits[i].Remaining -= by
			}
		}
	}
	t.ledger.debits = append(t.ledger.debits, t.debits...)
	t.ledger.activations = append(t.ledger.activations, t.acts...)
	t.ledger.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.done {
		t.done = true
		t.ledger.rollbacks++
	}
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
}

func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("act-%d", n), nil
	}
}

func TestAllocateCredits(t *testing.T) {
	t.Parallel()

	credits := []storage.PointCredit{
		{ID: 1, Remaining: 30},
		{ID: 2, Remaining: 50},
		{ID: 3, Remaining: 100},
	}

	tests := []struct {
		name    string
		amount  int64
		want    []storage.Allocation
		wantErr error
	}{
		{
			name:   "single credit covers",
			amount: 20,
			want:   []storage.Allocation{{CreditID: 1, Amount: 20}},
		},
		{
			name:   "spans credits in order",
			amount: 90,
			want: []storage.Allocation{
				{CreditID: 1, Amount: 30},
				{CreditID: 2, Amount: 50},
				{CreditID: 3, Amount: 10},
			},
		},
		{
			name:   "exact drain",
			amount: 180,
			want: []storage.Allocation{
				{CreditID: 1, Amount: 30},
				{CreditID: 2, Amount: 50},
				{CreditID: 3, Amount: 100},
			},
		},
		{
			name:    "underfunded",
			amount:  181,
			wantErr: storage.ErrInsufficientPoints,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := AllocateCredits(credits, tc.amount)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("AllocateCredits() error = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			if len(got) != len(tc.want) {
				t.Fatalf("AllocateCredits() = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("allocation[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestActivateForPlayerSpendsFIFOByExpiry(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.features["hall_of_fame"] = storage.PremiumFeature{
		ID: 1, Key: "hall_of_fame", Scope: storage.FeatureScopePlayer,
		CostPoints: 60, DurationDays: 30, Active: true,
	}
	playerID := int64(7)
	now := fixedClock()
	soon := now.Add(24 * time.Hour)
	later := now.Add(72 * time.Hour)
	ledger.credits = []storage.PointCredit{
		{ID: 1, PlayerID: &playerID, Remaining: 40, EarnedAt: now.Add(-time.Hour), Status: storage.CreditActive},
		{ID: 2, PlayerID: &playerID, Remaining: 40, EarnedAt: now.Add(-time.Hour), ExpiresAt: &soon, Status: storage.CreditActive},
		{ID: 3, PlayerID: &playerID, Remaining: 40, EarnedAt: now.Add(-time.Hour), ExpiresAt: &later, Status: storage.CreditActive},
	}

	svc := NewService(ledger, fixedClock, sequentialIDs())
	activation, err := svc.ActivateForPlayer(context.Background(), playerID, "hall_of_fame", false)
	if err != nil {
		t.Fatalf("ActivateForPlayer() error = %v", err)
	}
	if activation.EndAt != now.AddDate(0, 0, 30) {
		t.Errorf("activation end = %v, want %v", activation.EndAt, now.AddDate(0, 0, 30))
	}

	// Soonest expiry drains first; the never-expiring credit is untouched.
	byID := map[int64]int64{}
	for _, c := range ledger.credits {
		byID[c.ID] = c.Remaining
	}
	if byID[2] != 0 || byID[3] != 20 || byID[1] != 40 {
		t.Errorf("remaining = %v, want credit 2 drained, 3 partially, 1 untouched", byID)
	}
	if len(ledger.debits) != 1 || ledger.debits[0].Amount != 60 {
		t.Fatalf("debits = %+v, want one of 60", ledger.debits)
	}
	if ledger.debits[0].ActivationID != activation.ID {
		t.Errorf("debit activation id = %q, want %q", ledger.debits[0].ActivationID, activation.ID)
	}
}

func TestActivateForPlayerUnderfundedRollsBack(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.features["hall_of_fame"] = storage.PremiumFeature{
		ID: 1, Key: "hall_of_fame", Scope: storage.FeatureScopeBoth,
		CostPoints: 500, DurationDays: 30, Active: true,
	}
	playerID := int64(7)
	ledger.credits = []storage.PointCredit{
		{ID: 1, PlayerID: &playerID, Remaining: 40, EarnedAt: fixedClock(), Status: storage.CreditActive},
	}

	svc := NewService(ledger, fixedClock, sequentialIDs())
	_, err := svc.ActivateForPlayer(context.Background(), playerID, "hall_of_fame", false)
	if !IsInsufficient(err) {
		t.Fatalf("ActivateForPlayer() error = %v, want insufficient points", err)
	}
	if ledger.commits != 0 || ledger.rollbacks != 1 {
		t.Errorf("commits = %d, rollbacks = %d, want 0 and 1", ledger.commits, ledger.rollbacks)
	}
	if ledger.credits[0].Remaining != 40 {
		t.Errorf("credit remaining = %d after rollback, want 40", ledger.credits[0].Remaining)
	}
}

func TestActivateForPlayerSingleActiveWindow(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.features["hall_of_fame"] = storage.PremiumFeature{
		ID: 1, Key: "hall_of_fame", Scope: storage.FeatureScopePlayer,
		CostPoints: 10, DurationDays: 30, Active: true,
	}
	playerID := int64(7)
	ledger.credits = []storage.PointCredit{
		{ID: 1, PlayerID: &playerID, Remaining: 100, EarnedAt: fixedClock(), Status: storage.CreditActive},
	}

	svc := NewService(ledger, fixedClock, sequentialIDs())
	if _, err := svc.ActivateForPlayer(context.Background(), playerID, "hall_of_fame", false); err != nil {
		t.Fatalf("first ActivateForPlayer() error = %v", err)
	}
	_, err := svc.ActivateForPlayer(context.Background(), playerID, "hall_of_fame", false)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second ActivateForPlayer() error = %v, want ErrConflict", err)
	}
}

func TestActivateForGroupUsesGroupAndSpenderCredits(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.features["group_board"] = storage.PremiumFeature{
		ID: 2, Key: "group_board", Scope: storage.FeatureScopeGroup,
		CostPoints: 70, DurationDays: 30, Active: true,
	}
	groupID, spenderID, otherID := int64(12), int64(7), int64(8)
	ledger.members["7:12"] = true
	now := fixedClock()
	soon := now.Add(24 * time.Hour)
	ledger.credits = []storage.PointCredit{
		{ID: 1, GroupID: &groupID, Remaining: 50, EarnedAt: now, ExpiresAt: &soon, Status: storage.CreditActive},
		{ID: 2, PlayerID: &spenderID, Remaining: 50, EarnedAt: now, Status: storage.CreditActive},
		{ID: 3, PlayerID: &otherID, Remaining: 50, EarnedAt: now, Status: storage.CreditActive},
	}

	svc := NewService(ledger, fixedClock, sequentialIDs())
	if _, err := svc.ActivateForGroup(context.Background(), groupID, &spenderID, "group_board", false); err != nil {
		t.Fatalf("ActivateForGroup() error = %v", err)
	}

	byID := map[int64]int64{}
	for _, c := range ledger.credits {
		byID[c.ID] = c.Remaining
	}
	if byID[1] != 0 || byID[2] != 30 || byID[3] != 50 {
		t.Errorf("remaining = %v, want group drained, spender partial, stranger untouched", byID)
	}
	if len(ledger.debits) != 1 || ledger.debits[0].SpentByPlayerID == nil || *ledger.debits[0].SpentByPlayerID != spenderID {
		t.Fatalf("debit = %+v, want spent-by player %d", ledger.debits, spenderID)
	}
}

func TestActivateForGroupWithoutSpenderFundsFromGroup(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.features["group_board"] = storage.PremiumFeature{
		ID: 2, Key: "group_board", Scope: storage.FeatureScopeGroup,
		CostPoints: 70, DurationDays: 30, Active: true,
	}
	groupID := int64(12)
	ledger.credits = []storage.PointCredit{
		{ID: 1, GroupID: &groupID, Remaining: 100, EarnedAt: fixedClock(), Status: storage.CreditActive},
	}

	svc := NewService(ledger, fixedClock, sequentialIDs())
	if _, err := svc.ActivateForGroup(context.Background(), groupID, nil, "group_board", false); err != nil {
		t.Fatalf("ActivateForGroup(no spender) error = %v", err)
	}
	if ledger.credits[0].Remaining != 30 {
		t.Errorf("group credit remaining = %d, want 30", ledger.credits[0].Remaining)
	}
	if len(ledger.debits) != 1 || ledger.debits[0].SpentByPlayerID != nil {
		t.Fatalf("debit = %+v, want no spent-by player", ledger.debits)
	}
}

func TestActivateForGroupNonMemberSpenderExcludedFromPool(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.features["group_board"] = storage.PremiumFeature{
		ID: 2, Key: "group_board", Scope: storage.FeatureScopeGroup,
		CostPoints: 70, DurationDays: 30, Active: true,
	}
	groupID, outsiderID := int64(12), int64(7)
	ledger.credits = []storage.PointCredit{
		{ID: 1, GroupID: &groupID, Remaining: 50, EarnedAt: fixedClock(), Status: storage.CreditActive},
		{ID: 2, PlayerID: &outsiderID, Remaining: 50, EarnedAt: fixedClock(), Status: storage.CreditActive},
	}

	svc := NewService(ledger, fixedClock, sequentialIDs())
	_, err := svc.ActivateForGroup(context.Background(), groupID, &outsiderID, "group_board", false)
	if !IsInsufficient(err) {
		t.Fatalf("ActivateForGroup(non-member spender) error = %v, want insufficient points", err)
	}
	if ledger.credits[1].Remaining != 50 {
		t.Errorf("outsider credit remaining = %d, want untouched", ledger.credits[1].Remaining)
	}
}

func TestRunRecurringGrants(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := fixedClock()
	due := now.Add(-time.Hour)
	notYet := now.Add(time.Hour)
	playerA, playerB := int64(1), int64(2)
	ledger.grants = []storage.RecurringPointGrant{
		{ID: 1, PlayerID: playerA, Source: storage.GrantSourceSubscription, AmountPerPeriod: 100, NextDueAt: &due, Status: storage.GrantActive},
		{ID: 2, PlayerID: playerB, Source: storage.GrantSourceNitro, AmountPerPeriod: 50, NextDueAt: &notYet, Status: storage.GrantActive},
	}

	svc := NewService(ledger, fixedClock, sequentialIDs())
	if err := svc.RunRecurringGrants(context.Background()); err != nil {
		t.Fatalf("RunRecurringGrants() error = %v", err)
	}

	if len(ledger.credits) != 1 {
		t.Fatalf("credits = %d, want 1 (only the due grant)", len(ledger.credits))
	}
	credit := ledger.credits[0]
	if credit.PlayerID == nil || *credit.PlayerID != playerA || credit.Amount != 100 {
		t.Errorf("credit = %+v, want 100 for player 1", credit)
	}
	if ledger.grants[0].NextDueAt == nil || !ledger.grants[0].NextDueAt.After(now) {
		t.Errorf("next due = %v, want after %v", ledger.grants[0].NextDueAt, now)
	}
}

func TestExpireSweep(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	now := fixedClock()
	past := now.Add(-time.Minute)
	playerID := int64(1)
	ledger.credits = []storage.PointCredit{
		{ID: 1, PlayerID: &playerID, Remaining: 10, EarnedAt: now.Add(-time.Hour), ExpiresAt: &past, Status: storage.CreditActive},
	}
	ledger.activations = []storage.FeatureActivation{
		{ID: "a1", PlayerID: &playerID, FeatureID: 1, EndAt: past, Status: storage.ActivationActive},
	}

	svc := NewService(ledger, fixedClock, sequentialIDs())
	if err := svc.ExpireSweep(context.Background()); err != nil {
		t.Fatalf("ExpireSweep() error = %v", err)
	}
	if ledger.credits[0].Status != storage.CreditExpired {
		t.Errorf("credit status = %q, want expired", ledger.credits[0].Status)
	}
	if ledger.activations[0].Status != storage.ActivationExpired {
		t.Errorf("activation status = %q, want expired", ledger.activations[0].Status)
	}
}
