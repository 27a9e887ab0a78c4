// Package coalesce merges bursts of equivalent submissions into one. Team
// raid kills produce a personal-best submission per team member; holding
// them in a short window and keeping the largest reported team size yields
// one canonical record per kill.
package coalesce

import (
	"strings"
	"sync"
	"time"
)

// DefaultWindow is how long a key's first submission is held for merging.
const DefaultWindow = 10 * time.Second

// coalescedBosses are the raid encounters whose PB submissions arrive once
// per team member. Matched as substrings, so mode variants like "Tombs of
// Amascut: Expert Mode" qualify too.
var coalescedBosses = []string{
	"theatre of blood",
	"amascut",
}

// TeamBoss reports whether PB submissions for the named boss should be
// coalesced.
func TeamBoss(npcName string) bool {
	name := strings.ToLower(strings.TrimSpace(npcName))
	for _, boss := range coalescedBosses {
		if strings.Contains(name, boss) {
			return true
		}
	}
	return false
}

type entry[T any] struct {
	item     T
	teamSize int
	deadline time.Time
}

// Coalescer holds one pending item per key and keeps the candidate with the
// largest team size until the window closes.
type Coalescer[T any] struct {
	window   time.Duration
	teamSize func(T) int

	mu      sync.Mutex
	pending map[string]*entry[T]
}

// New builds a coalescer with the given window and team-size extractor.
func New[T any](window time.Duration, teamSize func(T) int) *Coalescer[T] {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coalescer[T]{
		window:   window,
		teamSize: teamSize,
		pending:  make(map[string]*entry[T]),
	}
}

// Offer adds an item under the key. The first offer opens a window; later
// offers within it replace the held item only when they report a larger
// team size. Returns true when a new window was opened.
func (c *Coalescer[T]) Offer(key string, item T, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	held, ok := c.pending[key]
	if !ok {
		c.pending[key] = &entry[T]{
			item:     item,
			teamSize: c.teamSize(item),
			deadline: now.Add(c.window),
		}
		return true
	}
	if size := c.teamSize(item); size > held.teamSize {
		held.item = item
		held.teamSize = size
	}
	return false
}

// Due pops and returns every held item whose window has closed.
func (c *Coalescer[T]) Due(now time.Time) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due []T
	for key, held := range c.pending {
		if !now.Before(held.deadline) {
			due = append(due, held.item)
			delete(c.pending, key)
		}
	}
	return due
}

// Flush pops every held item regardless of deadline. Used at shutdown.
func (c *Coalescer[T]) Flush() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	var all []T
	for key, held := range c.pending {
		all = append(all, held.item)
		delete(c.pending, key)
	}
	return all
}

// Pending reports how many windows are open.
func (c *Coalescer[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
