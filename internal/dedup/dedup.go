// Package dedup suppresses duplicate submissions using an in-memory ring of
// recently seen ids per kind, backed by a bounded database window for ids
// that aged out of the ring or arrived on another instance.
package dedup

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ringSize is how many recent ids each kind retains in memory.
const ringSize = 1000

// dbWindow is how far back the database is consulted for a resubmitted id.
const dbWindow = time.Hour

// Store is the persistence lookup behind the in-memory rings.
type Store interface {
	RecentSubmissionExists(ctx context.Context, kind, uniqueID string, since time.Time) (bool, error)
}

// Checker answers "have we already processed this submission id".
type Checker struct {
	store Store

	mu    sync.Mutex
	rings map[string]*ring
}

// NewChecker builds a checker over the given store.
func NewChecker(store Store) *Checker {
	return &Checker{store: store, rings: make(map[string]*ring)}
}

// Seen reports whether the id was already processed for the kind, checking
// the in-memory ring first and the database window second. A ring miss
// reserves the id under the same lock as the check, so a concurrent replay
// of the same id hits the ring while the database consult is still in
// flight. The reservation is dropped when the consult fails. Blank ids are
// never duplicates.
func (c *Checker) Seen(ctx context.Context, kind, uniqueID string, now time.Time) (bool, error) {
	uniqueID = strings.TrimSpace(uniqueID)
	if uniqueID == "" {
		return false, nil
	}

	c.mu.Lock()
	r, ok := c.rings[kind]
	if !ok {
		r = newRing(ringSize)
		c.rings[kind] = r
	}
	if r.contains(uniqueID) {
		c.mu.Unlock()
		return true, nil
	}
	r.add(uniqueID)
	c.mu.Unlock()

	exists, err := c.store.RecentSubmissionExists(ctx, kind, uniqueID, now.Add(-dbWindow))
	if err != nil {
		c.Forget(kind, uniqueID)
		return false, err
	}
	return exists, nil
}

// Forget drops the id from the kind's ring so a corrected resubmission can
// be processed. Used after a rejected submission.
func (c *Checker) Forget(kind, uniqueID string) {
	uniqueID = strings.TrimSpace(uniqueID)
	if uniqueID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rings[kind]; ok {
		r.remove(uniqueID)
	}
}

// ring is a fixed-capacity FIFO of ids with O(1) membership checks.
type ring struct {
	order []string
	index map[string]bool
	next  int
	full  bool
}

func newRing(capacity int) *ring {
	return &ring{
		order: make([]string, capacity),
		index: make(map[string]bool, capacity),
	}
}

func (r *ring) contains(id string) bool {
	return r.index[id]
}

func (r *ring) add(id string) {
	if r.index[id] {
		return
	}
	if r.full || r.next < len(r.order) {
		if evicted := r.order[r.next]; evicted != "" {
			delete(r.index, evicted)
		}
	}
	r.order[r.next] = id
	r.index[id] = true
	r.next++
	if r.next == len(r.order) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) remove(id string) {
	if !r.index[id] {
		return
	}
	delete(r.index, id)
	for i, v := range r.order {
		if v == id {
			r.order[i] = ""
			break
		}
	}
}
