// Package notify enqueues durable pending-notification rows for downstream
// delivery, suppressing repeats with a per-group window of recent payload
// hashes backed by the table's uniqueness constraint.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/platform/id"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// hashWindowSize is how many recent notification hashes each group retains.
const hashWindowSize = 100

// Store is the persistence surface behind the queue.
type Store interface {
	InsertNotification(ctx context.Context, n storage.Notification) error
}

// Queue writes pending notifications.
type Queue struct {
	store Store
	clock func() time.Time
	newID func() (string, error)

	mu      sync.Mutex
	windows map[int64]*hashWindow
}

// NewQueue builds a queue. Nil clock and newID use the defaults.
func NewQueue(store Store, clock func() time.Time, newID func() (string, error)) *Queue {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Queue{
		store:   store,
		clock:   clock,
		newID:   newID,
		windows: make(map[int64]*hashWindow),
	}
}

// Enqueue records one pending notification. Repeats inside the group's hash
// window, or colliding with an existing identical row, are suppressed
// silently: duplicate suppression is not a caller error.
func (q *Queue) Enqueue(ctx context.Context, kind string, playerID int64, groupID *int64, payload map[string]string) error {
	if kind == "" {
		return fmt.Errorf("notification kind is required")
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	var windowKey int64
	if groupID != nil {
		windowKey = *groupID
	}
	digest := hashNotification(kind, playerID, windowKey, payloadJSON)

	q.mu.Lock()
	window, ok := q.windows[windowKey]
	if !ok {
		window = newHashWindow(hashWindowSize)
		q.windows[windowKey] = window
	}
	if window.contains(digest) {
		q.mu.Unlock()
		return nil
	}
	window.add(digest)
	q.mu.Unlock()

	notificationID, err := q.newID()
	if err != nil {
		return fmt.Errorf("generate notification id: %w", err)
	}
	err = q.store.InsertNotification(ctx, storage.Notification{
		ID:          notificationID,
		Kind:        kind,
		PlayerID:    playerID,
		GroupID:     groupID,
		PayloadJSON: string(payloadJSON),
		Status:      storage.NotificationPending,
		CreatedAt:   q.clock(),
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func hashNotification(kind string, playerID, groupID int64, payloadJSON []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|", kind, playerID, groupID)
	h.Write(payloadJSON)
	return hex.EncodeToString(h.Sum(nil))
}

// hashWindow is a fixed-capacity FIFO of hashes with O(1) membership.
type hashWindow struct {
	order []string
	index map[string]bool
	next  int
	full  bool
}

func newHashWindow(capacity int) *hashWindow {
	return &hashWindow{
		order: make([]string, capacity),
		index: make(map[string]bool, capacity),
	}
}

func (w *hashWindow) contains(hash string) bool {
	return w.index[hash]
}

func (w *hashWindow) add(hash string) {
	if w.index[hash] {
		return
	}
	if evicted := w.order[w.next]; evicted != "" {
		delete(w.index, evicted)
	}
	w.order[w.next] = hash
	w.index[hash] = true
	w.next++
	if w.next == len(w.order) {
		w.next = 0
		w.full = true
	}
}
