package coalesce

import (
	"testing"
	"time"
)

type pbCandidate struct {
	player   string
	teamSize int
}

func newTestCoalescer() *Coalescer[pbCandidate] {
	return New(DefaultWindow, func(c pbCandidate) int { return c.teamSize })
}

func TestTeamBoss(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"Theatre of Blood", true},
		{"Theatre of Blood: Hard Mode", true},
		{"tombs of amascut", true},
		{"Tombs of Amascut: Expert Mode", true},
		{"Amascut: Expert Mode", true},
		{"Zulrah", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := TeamBoss(tc.name); got != tc.want {
			t.Errorf("TeamBoss(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLargestTeamSizeWins(t *testing.T) {
	t.Parallel()

	c := newTestCoalescer()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	if opened := c.Offer("p1:tob", pbCandidate{"p1", 3}, now); !opened {
		t.Fatal("first Offer() = false, want new window")
	}
	if opened := c.Offer("p1:tob", pbCandidate{"p1", 5}, now.Add(2*time.Second)); opened {
		t.Fatal("second Offer() = true, want merged into open window")
	}
	c.Offer("p1:tob", pbCandidate{"p1", 4}, now.Add(4*time.Second))

	if due := c.Due(now.Add(9 * time.Second)); due != nil {
		t.Fatalf("Due() before deadline = %v, want nil", due)
	}
	due := c.Due(now.Add(10 * time.Second))
	if len(due) != 1 {
		t.Fatalf("Due() returned %d items, want 1", len(due))
	}
	if due[0].teamSize != 5 {
		t.Errorf("coalesced team size = %d, want 5", due[0].teamSize)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after Due, want 0", c.Pending())
	}
}

func TestKeysCoalesceIndependently(t *testing.T) {
	t.Parallel()

	c := newTestCoalescer()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	c.Offer("p1:tob", pbCandidate{"p1", 4}, now)
	c.Offer("p2:tob", pbCandidate{"p2", 2}, now.Add(5*time.Second))

	due := c.Due(now.Add(10 * time.Second))
	if len(due) != 1 || due[0].player != "p1" {
		t.Fatalf("Due() = %v, want only p1's window", due)
	}
	due = c.Due(now.Add(15 * time.Second))
	if len(due) != 1 || due[0].player != "p2" {
		t.Fatalf("Due() = %v, want only p2's window", due)
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()

	c := newTestCoalescer()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	c.Offer("p1:tob", pbCandidate{"p1", 4}, now)
	c.Offer("p2:tob", pbCandidate{"p2", 2}, now)

	if got := len(c.Flush()); got != 2 {
		t.Fatalf("Flush() returned %d items, want 2", got)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after Flush, want 0", c.Pending())
	}
}
