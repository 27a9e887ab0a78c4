package leaderboard

import (
	"fmt"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
)

// Recent-item list caps per partition kind.
const (
	dailyRecentCap   = 25
	monthlyRecentCap = 50
	allTimeRecentCap = 100
)

// recentValueFloor is the total drop value below which drops are not pushed
// onto recent-item lists.
const recentValueFloor int64 = 1_000_000

// dailyTTL bounds how long daily partition keys live.
const dailyTTL = 90 * 24 * time.Hour

// partitionSpec pairs a partition bucket with its list cap and key TTL.
type partitionSpec struct {
	bucket string
	cap    int
	ttl    time.Duration
}

// partitionsFor returns the three partition buckets a drop at the given time
// falls into: all-time, monthly, and daily.
func partitionsFor(at time.Time) [3]partitionSpec {
	return [3]partitionSpec{
		{bucket: domain.AllTimeBucket, cap: allTimeRecentCap},
		{bucket: fmt.Sprintf("%d", domain.MonthlyPartition(at)), cap: monthlyRecentCap},
		{bucket: fmt.Sprintf("%d", domain.DailyPartition(at)), cap: dailyRecentCap, ttl: dailyTTL},
	}
}

func totalItemsKey(playerID int64, bucket string) string {
	return fmt.Sprintf("player:%d:%s:total_items", playerID, bucket)
}

func totalLootKey(playerID int64, bucket string) string {
	return fmt.Sprintf("player:%d:%s:total_loot", playerID, bucket)
}

func recentItemsKey(playerID int64, bucket string) string {
	return fmt.Sprintf("player:%d:%s:recent_items", playerID, bucket)
}

func boardKey(bucket string) string {
	return fmt.Sprintf("leaderboard:%s", bucket)
}

func groupBoardKey(bucket string, groupID int64) string {
	return fmt.Sprintf("leaderboard:%s:group:%d", bucket, groupID)
}

func groupNPCBoardKey(bucket string, groupID, npcID int64) string {
	return fmt.Sprintf("leaderboard:%s:group:%d:npc:%d", bucket, groupID, npcID)
}

// playerKeyPattern matches every partition key of one player.
func playerKeyPattern(playerID int64) string {
	return fmt.Sprintf("player:%d:*", playerID)
}

// boardKeyPattern matches every board, global and group scoped.
func boardKeyPattern() string {
	return "leaderboard:*"
}
