// Package ingest dispatches flattened webhook submissions to their per-kind
// processors: drop, personal best, combat achievement, collection log, pet,
// and adventure log. Every processor shares one prologue (dedup, auth gate,
// entity resolution) and one epilogue (points, leaderboard, per-group
// notification fan-out).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/coalesce"
	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/leaderboard"
	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// defaultPointsDivisor maps GP drop value to points.
const defaultPointsDivisor = 1_000_000

// highValueThreshold is the total drop value above which the item/NPC
// pairing must be verified upstream before anything is persisted.
const highValueThreshold = 1_000_000

// awardTTL is the expiry applied to event-earned point credits.
const awardTTL = 60 * 24 * time.Hour

// pbKillCountFloor is the minimum boss kill count for a new-PB award.
const pbKillCountFloor = 50

// Store is the persistence surface the processors need.
type Store interface {
	InsertDrop(ctx context.Context, drop storage.Drop) (int64, error)
	PersonalBestFor(ctx context.Context, playerID, npcID int64, teamSize int) (storage.PersonalBest, error)
	UpsertPersonalBest(ctx context.Context, pb storage.PersonalBest) (int64, error)
	UpdateLastKill(ctx context.Context, playerID, npcID int64, teamSize int, lastKillMS int64) error
	InsertCombatAchievement(ctx context.Context, ca storage.CombatAchievement) (int64, error)
	InsertCollectionLogEntry(ctx context.Context, entry storage.CollectionLogEntry) (int64, error)
	InsertPet(ctx context.Context, pet storage.Pet) (int64, error)

	GroupsForPlayer(ctx context.Context, playerID int64) ([]storage.Group, error)
	GroupConfig(ctx context.Context, groupID int64) ([]storage.GroupConfigEntry, error)
	ActiveGroupFeature(ctx context.Context, groupID int64, featureKey string) (bool, error)
	UserByID(ctx context.Context, userID int64) (storage.User, error)
	ItemByID(ctx context.Context, itemID int64) (storage.Item, error)
	ItemByName(ctx context.Context, name string) (storage.Item, error)
	NPCByName(ctx context.Context, name string) (storage.NPC, error)
	InsertReceipt(ctx context.Context, receipt storage.SubmissionReceipt) error
}

// Resolver resolves submission identifiers into persisted rows.
type Resolver interface {
	ResolvePlayer(ctx context.Context, displayName, accountHash string) (storage.Player, error)
	ResolveItem(ctx context.Context, itemID int64, itemName string) (storage.Item, error)
	ResolveNPC(ctx context.Context, npcName string, playerID int64) (storage.NPC, error)
}

// Gate decides whether a submission may mutate state under a player name.
type Gate interface {
	Check(ctx context.Context, playerName, accountHash string) (exists, authed bool, err error)
}

// Deduper rejects replayed submission ids.
type Deduper interface {
	Seen(ctx context.Context, kind, uniqueID string, now time.Time) (bool, error)
	Forget(kind, uniqueID string)
}

// Boards is the Redis aggregate layer updated on every drop.
type Boards interface {
	RecordDrop(ctx context.Context, update leaderboard.DropUpdate) error
}

// Points awards event credits.
type Points interface {
	AwardPlayer(ctx context.Context, playerID int64, source string, amount int64, ttl time.Duration) (int64, error)
}

// Notifier enqueues downstream notifications.
type Notifier interface {
	Enqueue(ctx context.Context, kind string, playerID int64, groupID *int64, payload map[string]string) error
}

// Upstream is the external verification surface: drop pairing checks, boss
// kill counts, and GE prices for synthetic values.
type Upstream interface {
	DropVerified(ctx context.Context, itemName, npcName string) (bool, error)
	KillCount(ctx context.Context, displayName, npcName string) (int64, error)
	Price(ctx context.Context, itemName string) (int64, error)
}

// BoardRefresher requests throttled board refreshes.
type BoardRefresher interface {
	Request(groupID int64)
}

// Config carries the tunable processor knobs.
type Config struct {
	// PointsDivisor maps drop GP to points; zero uses the default.
	PointsDivisor int64
	// Footer is appended to every notification payload when set.
	Footer string
}

// Service processes submissions.
type Service struct {
	store     Store
	resolver  Resolver
	gate      Gate
	dedup     Deduper
	boards    Boards
	points    Points
	notify    Notifier
	upstream  Upstream
	refresher BoardRefresher
	pbWindow  *coalesce.Coalescer[Submission]
	clock     func() time.Time
	divisor   int64
	footer    string
}

// NewService wires a processor service. A nil clock uses time.Now; a nil
// refresher disables board refresh requests.
func NewService(store Store, resolver Resolver, gate Gate, dedup Deduper, boards Boards,
	points Points, notify Notifier, upstream Upstream, refresher BoardRefresher,
	cfg Config, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	divisor := cfg.PointsDivisor
	if divisor <= 0 {
		divisor = defaultPointsDivisor
	}
	return &Service{
		store:     store,
		resolver:  resolver,
		gate:      gate,
		dedup:     dedup,
		boards:    boards,
		points:    points,
		notify:    notify,
		upstream:  upstream,
		refresher: refresher,
		pbWindow: coalesce.New(coalesce.DefaultWindow, func(sub Submission) int {
			return domain.ParseTeamSize(sub.TeamSize)
		}),
		clock:   clock,
		divisor: divisor,
		footer:  cfg.Footer,
	}
}

// Process runs one submission through its processor and records a receipt.
func (s *Service) Process(ctx context.Context, sub Submission) Result {
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = s.clock()
	}
	var (
		recordID int64
		notice   string
		err      error
	)
	switch sub.Kind {
	case KindDrop:
		recordID, notice, err = s.processDrop(ctx, sub)
	case KindPB:
		recordID, notice, err = s.processPB(ctx, sub, false)
	case KindCA:
		recordID, notice, err = s.processCA(ctx, sub)
	case KindClog:
		recordID, notice, err = s.processClog(ctx, sub)
	case KindPet:
		recordID, notice, err = s.processPet(ctx, sub)
	case KindAdventureLog:
		recordID, notice, err = s.processAdventureLog(ctx, sub)
	case KindNoop:
		return Result{Kind: sub.Kind, UniqueID: sub.UniqueID,
			Status: storage.SubmissionProcessed, Notice: "acknowledged"}
	default:
		err = apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("unrecognized submission kind %q", sub.Kind))
	}

	result := s.buildResult(sub, recordID, notice, err)
	s.recordReceipt(ctx, sub, result)
	return result
}

func (s *Service) buildResult(sub Submission, recordID int64, notice string, err error) Result {
	result := Result{Kind: sub.Kind, UniqueID: sub.UniqueID, RecordID: recordID}
	if err == nil {
		result.Status = storage.SubmissionProcessed
		result.Notice = notice
		return result
	}
	result.Err = err
	result.Notice = err.Error()
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeDuplicate {
		result.Status = storage.SubmissionDuplicate
		return result
	}
	result.Status = storage.SubmissionRejected
	// Retriable failures release the dedup slot so the client can resubmit.
	if code.Retriable() {
		s.dedup.Forget(sub.Kind, sub.UniqueID)
	}
	return result
}

func (s *Service) recordReceipt(ctx context.Context, sub Submission, result Result) {
	if strings.TrimSpace(sub.UniqueID) == "" {
		return
	}
	receipt := storage.SubmissionReceipt{
		UniqueID:  sub.UniqueID,
		Kind:      sub.Kind,
		Status:    result.Status,
		RecordID:  result.RecordID,
		Notice:    result.Notice,
		CreatedAt: s.clock(),
	}
	if err := s.store.InsertReceipt(ctx, receipt); err != nil {
		log.Printf("ingest: record receipt %s: %v", sub.UniqueID, err)
	}
}

// admit runs the shared prologue: dedup, auth gate, player resolution.
func (s *Service) admit(ctx context.Context, sub Submission) (storage.Player, error) {
	seen, err := s.dedup.Seen(ctx, sub.Kind, sub.UniqueID, sub.ReceivedAt)
	if err != nil {
		return storage.Player{}, apperrors.Wrap(apperrors.CodeInternal, "dedup check", err)
	}
	if seen {
		return storage.Player{}, apperrors.New(apperrors.CodeDuplicate,
			fmt.Sprintf("submission %s was already processed", sub.UniqueID))
	}
	exists, authed, err := s.gate.Check(ctx, sub.PlayerName, sub.AccountHash)
	if err != nil {
		return storage.Player{}, err
	}
	if exists && !authed {
		return storage.Player{}, apperrors.New(apperrors.CodeAuthFailure,
			fmt.Sprintf("account hash does not match player %q", sub.PlayerName))
	}
	return s.resolver.ResolvePlayer(ctx, sub.PlayerName, sub.AccountHash)
}

// memberGroups loads the player's groups with their settings views.
type memberGroup struct {
	group    storage.Group
	settings Settings
}

func (s *Service) memberGroups(ctx context.Context, playerID int64) ([]memberGroup, error) {
	groups, err := s.store.GroupsForPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("list player groups: %w", err)
	}
	out := make([]memberGroup, 0, len(groups))
	for _, group := range groups {
		entries, err := s.store.GroupConfig(ctx, group.ID)
		if err != nil {
			return nil, fmt.Errorf("load config for group %d: %w", group.ID, err)
		}
		out = append(out, memberGroup{group: group, settings: NewSettings(entries)})
	}
	return out, nil
}

// fanout enqueues one notification per member group that passes the gate.
// Returns how many were enqueued. Enqueue failures degrade to a log line;
// the submission itself already persisted.
func (s *Service) fanout(ctx context.Context, player storage.Player, groups []memberGroup,
	kind, imageURL string, payload map[string]string, gate func(Settings) bool) int {
	enqueued := 0
	for _, member := range groups {
		if member.settings.OnlyWithImages() && imageURL == "" {
			continue
		}
		if !gate(member.settings) {
			continue
		}
		groupID := member.group.ID
		if err := s.notify.Enqueue(ctx, kind, player.ID, &groupID, payload); err != nil &&
			!errors.Is(err, storage.ErrConflict) {
			log.Printf("ingest: enqueue %s for group %d: %v", kind, groupID, err)
			continue
		}
		enqueued++
	}
	return enqueued
}

// directMessage enqueues a DM notification when the owning user opted in.
func (s *Service) directMessage(ctx context.Context, player storage.Player, dmKind string, payload map[string]string) {
	if player.OwnerUserID == nil {
		return
	}
	user, err := s.store.UserByID(ctx, *player.OwnerUserID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("ingest: load owner %d: %v", *player.OwnerUserID, err)
		}
		return
	}
	if !user.DMOptedIn(dmKind) {
		return
	}
	if err := s.notify.Enqueue(ctx, dmKind, player.ID, nil, payload); err != nil &&
		!errors.Is(err, storage.ErrConflict) {
		log.Printf("ingest: enqueue %s for player %d: %v", dmKind, player.ID, err)
	}
}

func (s *Service) basePayload(player storage.Player, sub Submission) map[string]string {
	payload := map[string]string{
		"player_name": player.DisplayName,
	}
	if sub.ImageURL != "" {
		payload["image_url"] = sub.ImageURL
	}
	if s.footer != "" {
		payload["footer"] = s.footer
	}
	return payload
}

func (s *Service) award(ctx context.Context, playerID int64, source string, amount int64, ttl time.Duration) {
	if amount <= 0 {
		return
	}
	if _, err := s.points.AwardPlayer(ctx, playerID, source, amount, ttl); err != nil {
		log.Printf("ingest: award %d points to player %d: %v", amount, playerID, err)
	}
}
