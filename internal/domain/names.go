// Package domain holds the pure value logic shared across the ingest
// pipeline: name normalization, time partitions, configuration coercion,
// personal-best time parsing, combat achievement tiers, and the synthetic
// value table for untradeable drops.
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NormalizeDisplayName reduces a player display name to its equivalence
// form: lowercase, `-` and `_` treated as spaces, runs of whitespace
// collapsed, anything outside [a-z0-9 ] stripped. Two display names refer to
// the same player when their normalized forms match.
func NormalizeDisplayName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r == '-' || r == '_' || r == ' ':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// SameDisplayName reports whether two display names are equivalent under
// display normalization.
func SameDisplayName(a, b string) bool {
	return NormalizeDisplayName(a) == NormalizeDisplayName(b)
}

// NormalizeNPCName compacts underscores and whitespace runs in an NPC name
// so cache keys and external queries agree on one spelling.
func NormalizeNPCName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	return strings.Join(strings.Fields(name), " ")
}

var doomLevelPattern = regexp.MustCompile(`(?i)^doom of mokhaiotl\s*\(\s*level[ _]*(\d+)\s*\)$`)

const (
	// DoomOfMokhaiotlBaseID is the NPC id offset for per-level Doom variants.
	DoomOfMokhaiotlBaseID = 14707
	// DoomOfMokhaiotlFallbackID is returned when the level cannot be parsed.
	DoomOfMokhaiotlFallbackID = 14704
)

// DoomOfMokhaiotlID resolves the special-cased Doom of Mokhaiotl NPC names
// without consulting the external semantic service. It returns the resolved
// id, the canonical `(Level N)` spelling, and whether the name matched.
func DoomOfMokhaiotlID(name string) (int64, string, bool) {
	normalized := NormalizeNPCName(name)
	if !strings.HasPrefix(strings.ToLower(normalized), "doom of mokhaiotl") {
		return 0, "", false
	}
	match := doomLevelPattern.FindStringSubmatch(normalized)
	if match == nil {
		return DoomOfMokhaiotlFallbackID, "Doom of Mokhaiotl", true
	}
	level, err := strconv.Atoi(match[1])
	if err != nil {
		return DoomOfMokhaiotlFallbackID, "Doom of Mokhaiotl", true
	}
	canonical := fmt.Sprintf("Doom of Mokhaiotl (Level %d)", level)
	return int64(DoomOfMokhaiotlBaseID + level), canonical, true
}
