package extern

import (
	"context"
	"sync"
	"time"
)

// Upstream budget: at most 100 requests per rolling 65 seconds.
const (
	limiterBudget = 100
	limiterWindow = 65 * time.Second
)

// limiter enforces a sliding-window request budget.
type limiter struct {
	budget int
	window time.Duration
	clock  func() time.Time

	mu   sync.Mutex
	sent []time.Time
}

func newLimiter(budget int, window time.Duration, clock func() time.Time) *limiter {
	if clock == nil {
		clock = time.Now
	}
	return &limiter{budget: budget, window: window, clock: clock}
}

// wait blocks until a request slot is available or the context ends.
func (l *limiter) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock()
		cutoff := now.Add(-l.window)
		live := l.sent[:0]
		for _, at := range l.sent {
			if at.After(cutoff) {
				live = append(live, at)
			}
		}
		l.sent = live
		if len(l.sent) < l.budget {
			l.sent = append(l.sent, now)
			l.mu.Unlock()
			return nil
		}
		wakeAt := l.sent[0].Add(l.window)
		l.mu.Unlock()

		timer := time.NewTimer(wakeAt.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire reports whether a slot was available without blocking.
func (l *limiter) tryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	cutoff := now.Add(-l.window)
	live := l.sent[:0]
	for _, at := range l.sent {
		if at.After(cutoff) {
			live = append(live, at)
		}
	}
	l.sent = live
	if len(l.sent) >= l.budget {
		return false
	}
	l.sent = append(l.sent, now)
	return true
}
