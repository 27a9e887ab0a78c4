package ingest

import (
	"context"
	"sync"
	"time"
)

// refreshInterval is the minimum spacing between board refreshes per group.
const refreshInterval = 10 * time.Second

// Refresher serializes board-refresh requests through one actor and
// throttles them to at most one per group per interval. Requests arriving
// inside the throttle window, or while the queue is full, are dropped.
type Refresher struct {
	refresh  func(ctx context.Context, groupID int64)
	clock    func() time.Time
	requests chan int64

	mu   sync.Mutex
	last map[int64]time.Time
}

// defaultQueueLength is the request queue capacity when none is configured.
const defaultQueueLength = 64

// NewRefresher builds a refresher. A non-positive queueLength uses the
// default; a nil clock uses time.Now.
func NewRefresher(refresh func(ctx context.Context, groupID int64), queueLength int, clock func() time.Time) *Refresher {
	if queueLength <= 0 {
		queueLength = defaultQueueLength
	}
	if clock == nil {
		clock = time.Now
	}
	return &Refresher{
		refresh:  refresh,
		clock:    clock,
		requests: make(chan int64, queueLength),
		last:     make(map[int64]time.Time),
	}
}

// Request asks for a board refresh of one group. Never blocks.
func (r *Refresher) Request(groupID int64) {
	select {
	case r.requests <- groupID:
	default:
	}
}

// Run consumes refresh requests until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case groupID := <-r.requests:
			if !r.admitRefresh(groupID) {
				continue
			}
			r.refresh(ctx, groupID)
		}
	}
}

func (r *Refresher) admitRefresh(groupID int64) bool {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.last[groupID]; ok && now.Sub(last) < refreshInterval {
		return false
	}
	r.last[groupID] = now
	return true
}
