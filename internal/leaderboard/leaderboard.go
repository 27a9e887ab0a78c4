// Package leaderboard maintains the Redis materialization of drop totals:
// per-player item hashes, loot counters, recent-item lists, and ranked
// sorted sets per partition, group, and NPC.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DropTracker-io/droptracker-core/internal/platform/timeouts"
)

// mergeDropScript folds one drop into a player's partition keys atomically:
// the item hash field is a CSV of qty,total_value,drop_count,first_drop,
// last_drop; the loot counter is incremented; the recent list is pushed and
// trimmed when the drop qualifies.
var mergeDropScript = redis.NewScript(`
local items, loot, recent = KEYS[1], KEYS[2], KEYS[3]
local qty = tonumber(ARGV[2])
local value = tonumber(ARGV[3])
local ts = tonumber(ARGV[4])

local cur = redis.call("HGET", items, ARGV[1])
if cur then
	local q, v, c, f = string.match(cur, "([^,]+),([^,]+),([^,]+),([^,]+),[^,]+")
	qty = qty + tonumber(q)
	value = value + tonumber(v)
	local count = tonumber(c) + 1
	local first = math.min(tonumber(f), ts)
	redis.call("HSET", items, ARGV[1], qty..","..value..","..count..","..first..","..ts)
else
	redis.call("HSET", items, ARGV[1], qty..","..value..",1,"..ts..","..ts)
end
redis.call("INCRBY", loot, ARGV[3])
if ARGV[6] == "1" then
	redis.call("LPUSH", recent, ARGV[5])
	redis.call("LTRIM", recent, 0, tonumber(ARGV[8]) - 1)
end
local ttl = tonumber(ARGV[7])
if ttl > 0 then
	redis.call("EXPIRE", items, ttl)
	redis.call("EXPIRE", loot, ttl)
	redis.call("EXPIRE", recent, ttl)
end
return value
`)

// DropUpdate is one drop to fold into the leaderboards.
type DropUpdate struct {
	PlayerID   int64
	GroupIDs   []int64
	NPCID      int64
	ItemID     int64
	ItemName   string
	Quantity   int64
	Value      int64 // unit value
	ImageURL   string
	ReceivedAt time.Time
}

// TotalValue returns unit value times quantity.
func (u DropUpdate) TotalValue() int64 {
	return u.Value * u.Quantity
}

// recentEntry is the JSON payload pushed onto recent-item lists.
type recentEntry struct {
	ItemID     int64  `json:"item_id"`
	ItemName   string `json:"item_name"`
	NPCID      int64  `json:"npc_id"`
	Quantity   int64  `json:"quantity"`
	Value      int64  `json:"value"`
	ImageURL   string `json:"image_url,omitempty"`
	ReceivedAt int64  `json:"received_at"`
}

// Entry is one ranked row read back from a board.
type Entry struct {
	PlayerID int64
	Score    int64
}

// Store materializes drop totals in Redis.
type Store struct {
	rdb redis.Cmdable

	mu         sync.Mutex
	rebuilding map[int64]bool
}

// NewStore wraps a Redis client.
func NewStore(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb, rebuilding: make(map[int64]bool)}
}

// RecordDrop folds one drop into every partition and board it affects. The
// call is a no-op while the player is being force rebuilt; the rebuild
// replays the canonical rows from the database afterwards.
func (s *Store) RecordDrop(ctx context.Context, update DropUpdate) error {
	if update.PlayerID == 0 {
		return fmt.Errorf("player id is required")
	}
	s.mu.Lock()
	busy := s.rebuilding[update.PlayerID]
	s.mu.Unlock()
	if busy {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.RedisOp)
	defer cancel()
	return s.applyDrop(ctx, update)
}

func (s *Store) applyDrop(ctx context.Context, update DropUpdate) error {
	total := update.TotalValue()
	recentFlag := "0"
	var payload string
	if total > recentValueFloor {
		raw, err := json.Marshal(recentEntry{
			ItemID:     update.ItemID,
			ItemName:   update.ItemName,
			NPCID:      update.NPCID,
			Quantity:   update.Quantity,
			Value:      update.Value,
			ImageURL:   update.ImageURL,
			ReceivedAt: update.ReceivedAt.UTC().UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("marshal recent entry: %w", err)
		}
		recentFlag = "1"
		payload = string(raw)
	}

	ts := update.ReceivedAt.UTC().UnixMilli()
	for _, part := range partitionsFor(update.ReceivedAt) {
		keys := []string{
			totalItemsKey(update.PlayerID, part.bucket),
			totalLootKey(update.PlayerID, part.bucket),
			recentItemsKey(update.PlayerID, part.bucket),
		}
		args := []any{
			update.ItemID, update.Quantity, total, ts,
			payload, recentFlag, int64(part.ttl.Seconds()), part.cap,
		}
		if err := mergeDropScript.Run(ctx, s.rdb, keys, args...).Err(); err != nil {
			return fmt.Errorf("merge drop into %s: %w", part.bucket, err)
		}
	}

	pipe := s.rdb.Pipeline()
	member := fmt.Sprintf("%d", update.PlayerID)
	for _, part := range partitionsFor(update.ReceivedAt) {
		pipe.ZIncrBy(ctx, boardKey(part.bucket), float64(total), member)
		if part.ttl > 0 {
			pipe.Expire(ctx, boardKey(part.bucket), part.ttl)
		}
		for _, groupID := range update.GroupIDs {
			pipe.ZIncrBy(ctx, groupBoardKey(part.bucket, groupID), float64(total), member)
			pipe.ZIncrBy(ctx, groupNPCBoardKey(part.bucket, groupID, update.NPCID), float64(total), member)
			if part.ttl > 0 {
				pipe.Expire(ctx, groupBoardKey(part.bucket, groupID), part.ttl)
				pipe.Expire(ctx, groupNPCBoardKey(part.bucket, groupID, update.NPCID), part.ttl)
			}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update boards: %w", err)
	}
	return nil
}

// ForceRebuild wipes the player's leaderboard state and replays the given
// canonical drops. The clear step scans every key the player could appear
// under, so state the replay would not recreate, like a score on a board of
// a group the player has left, does not survive. Concurrent rebuilds of the
// same player coalesce into one; incremental updates for the player are
// suppressed while it runs.
func (s *Store) ForceRebuild(ctx context.Context, playerID int64, drops []DropUpdate) error {
	if playerID == 0 {
		return fmt.Errorf("player id is required")
	}
	s.mu.Lock()
	if s.rebuilding[playerID] {
		s.mu.Unlock()
		return nil
	}
	s.rebuilding[playerID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.rebuilding, playerID)
		s.mu.Unlock()
	}()

	playerKeys, err := s.scanKeys(ctx, playerKeyPattern(playerID))
	if err != nil {
		return fmt.Errorf("scan player keys: %w", err)
	}
	boards, err := s.scanKeys(ctx, boardKeyPattern())
	if err != nil {
		return fmt.Errorf("scan boards: %w", err)
	}

	pipe := s.rdb.Pipeline()
	member := fmt.Sprintf("%d", playerID)
	if len(playerKeys) > 0 {
		pipe.Del(ctx, playerKeys...)
	}
	for _, board := range boards {
		pipe.ZRem(ctx, board, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear player keys: %w", err)
	}

	for _, drop := range drops {
		if err := s.applyDrop(ctx, drop); err != nil {
			return fmt.Errorf("replay drop: %w", err)
		}
	}
	return nil
}

// scanKeys walks the full keyspace for one pattern.
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Rebuilding reports whether a rebuild of the player is in flight.
func (s *Store) Rebuilding(playerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuilding[playerID]
}

// TotalLoot reads the player's loot counter for one partition bucket.
func (s *Store) TotalLoot(ctx context.Context, playerID int64, bucket string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.RedisOp)
	defer cancel()
	value, err := s.rdb.Get(ctx, totalLootKey(playerID, bucket)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read total loot: %w", err)
	}
	return value, nil
}

// RecentItems reads the player's recent drops for one partition bucket.
func (s *Store) RecentItems(ctx context.Context, playerID int64, bucket string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.RedisOp)
	defer cancel()
	entries, err := s.rdb.LRange(ctx, recentItemsKey(playerID, bucket), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read recent items: %w", err)
	}
	return entries, nil
}

// TopPlayers reads the highest-scored players from one board. A nil group
// reads the global board; a non-nil npcID narrows to that NPC's group board.
func (s *Store) TopPlayers(ctx context.Context, bucket string, groupID, npcID *int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.RedisOp)
	defer cancel()
	key := boardKey(bucket)
	if groupID != nil {
		if npcID != nil {
			key = groupNPCBoardKey(bucket, *groupID, *npcID)
		} else {
			key = groupBoardKey(bucket, *groupID)
		}
	}
	rows, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read board %s: %w", key, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		member, ok := row.Member.(string)
		if !ok {
			continue
		}
		var playerID int64
		if _, err := fmt.Sscanf(member, "%d", &playerID); err != nil {
			continue
		}
		entries = append(entries, Entry{PlayerID: playerID, Score: int64(row.Score)})
	}
	return entries, nil
}

// RankOf reads the player's 1-based rank and the board size. Rank 0 means
// the player is absent from the board.
func (s *Store) RankOf(ctx context.Context, bucket string, groupID *int64, playerID int64) (rank, total int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.RedisOp)
	defer cancel()
	key := boardKey(bucket)
	if groupID != nil {
		key = groupBoardKey(bucket, *groupID)
	}
	member := fmt.Sprintf("%d", playerID)
	pos, err := s.rdb.ZRevRank(ctx, key, member).Result()
	if err == redis.Nil {
		total, err = s.rdb.ZCard(ctx, key).Result()
		if err != nil {
			return 0, 0, fmt.Errorf("read board size: %w", err)
		}
		return 0, total, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read rank: %w", err)
	}
	total, err = s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read board size: %w", err)
	}
	return pos + 1, total, nil
}

// Ping probes Redis for the health checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
