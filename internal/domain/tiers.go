package domain

import "strings"

// CATier is a combat achievement difficulty tier.
type CATier string

// Combat achievement tiers in ascending difficulty order.
const (
	TierEasy        CATier = "easy"
	TierMedium      CATier = "medium"
	TierHard        CATier = "hard"
	TierElite       CATier = "elite"
	TierMaster      CATier = "master"
	TierGrandmaster CATier = "grandmaster"
)

// TierDisabled is the min_ca_tier_to_notify value that disables tier gating.
const TierDisabled = "disabled"

var caTierOrder = []CATier{TierEasy, TierMedium, TierHard, TierElite, TierMaster, TierGrandmaster}

// TierIndex returns the ordinal of a tier within the ascending tier list,
// or -1 for unknown tiers.
func TierIndex(tier string) int {
	normalized := CATier(strings.ToLower(strings.TrimSpace(tier)))
	for i, candidate := range caTierOrder {
		if candidate == normalized {
			return i
		}
	}
	return -1
}

// TierPoints returns the points awarded for completing a task of the given
// tier. Unknown tiers award one point.
func TierPoints(tier string) int64 {
	idx := TierIndex(tier)
	if idx < 0 {
		return 1
	}
	return int64(idx + 1)
}

// TierQualifies reports whether a task tier meets the configured minimum.
// An unknown or disabled minimum never gates; an unknown task tier only
// qualifies when no minimum applies.
func TierQualifies(taskTier, minTier string) bool {
	minTier = strings.ToLower(strings.TrimSpace(minTier))
	if minTier == "" || minTier == TierDisabled {
		return true
	}
	minIdx := TierIndex(minTier)
	if minIdx < 0 {
		return true
	}
	taskIdx := TierIndex(taskTier)
	if taskIdx < 0 {
		return false
	}
	return taskIdx >= minIdx
}
