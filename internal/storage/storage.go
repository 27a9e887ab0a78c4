// Package storage defines the persistent record types shared by the ingest
// pipeline and the sentinels its stores return. The SQLite implementation
// lives in the sqlite subpackage; consumers declare narrow interfaces over
// the subset of operations they need.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrConflict indicates a write conflicted with a uniqueness constraint.
var ErrConflict = errors.New("record conflict")

// ErrInsufficientPoints indicates credits could not fund a debit in full.
var ErrInsufficientPoints = errors.New("insufficient points")

// GlobalGroupID is the implicit group every player belongs to.
const GlobalGroupID int64 = 2

// Player is a tracked OSRS account.
type Player struct {
	ID                 int64
	ExternalID         int64 // id at the external player-metadata service
	AccountHash        string
	DisplayName        string
	OwnerUserID        *int64
	TotalLevel         int
	CollectionLogSlots int
	Hidden             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// User is a registered owner of one or more players.
type User struct {
	ID            int64
	AuthToken     string
	DMDrops       bool
	DMClogs       bool
	DMPBs         bool
	DMCAs         bool
	DMPets        bool
	DMNameChanges bool
}

// DMOptedIn reports the user's preference for one DM notification kind.
func (u User) DMOptedIn(kind string) bool {
	switch kind {
	case "dm_drop":
		return u.DMDrops
	case "dm_clog":
		return u.DMClogs
	case "dm_pb":
		return u.DMPBs
	case "dm_ca":
		return u.DMCAs
	case "dm_pet":
		return u.DMPets
	case "dm_name_change":
		return u.DMNameChanges
	default:
		return false
	}
}

// Group is a clan or community tracked by the service.
type Group struct {
	ID              int64
	Name            string
	ExternalGroupID *int64
	Description     string
	Icon            string
	Invite          string
}

// Item is an OSRS item. Identity key is the game item id; name is advisory.
type Item struct {
	ID        int64
	Name      string
	Stackable bool
	Noted     bool
}

// NPC is an OSRS monster or boss.
type NPC struct {
	ID   int64
	Name string
}

// Drop is one materialized item-drop submission.
type Drop struct {
	ID            int64
	PlayerID      int64
	ItemID        int64
	NPCID         int64
	Value         int64 // effective unit value
	Quantity      int64
	ReceivedAt    time.Time
	ImageURL      string
	Authenticated bool
	ViaAPI        bool
	Partition     int // year*100 + month
	UniqueID      string
}

// TotalValue returns unit value times quantity.
func (d Drop) TotalValue() int64 {
	return d.Value * d.Quantity
}

// PersonalBest is the best recorded kill time for (player, npc, team size).
type PersonalBest struct {
	ID         int64
	PlayerID   int64
	NPCID      int64
	TeamSize   int
	BestMS     int64
	LastKillMS int64
	IsNewPB    bool
	ImageURL   string
	ReceivedAt time.Time
	UniqueID   string
}

// CombatAchievement is one completed CA task, unique per (player, task).
type CombatAchievement struct {
	ID         int64
	PlayerID   int64
	TaskName   string
	ImageURL   string
	ReceivedAt time.Time
	UniqueID   string
}

// CollectionLogEntry is one unlocked clog slot, unique per (player, item).
type CollectionLogEntry struct {
	ID            int64
	PlayerID      int64
	ItemID        int64
	NPCID         int64
	ReportedSlots int
	ImageURL      string
	ReceivedAt    time.Time
	UniqueID      string
}

// Pet is one obtained pet, unique per (player, item).
type Pet struct {
	ID       int64
	PlayerID int64
	ItemID   int64
	PetName  string
}

// Notification statuses.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Notification is a durable pending-notification row consumed downstream.
type Notification struct {
	ID          string
	Kind        string
	PlayerID    int64
	GroupID     *int64
	PayloadJSON string
	Status      string
	CreatedAt   time.Time
	ProcessedAt *time.Time
	LastError   string
}

// GroupConfigEntry is one key/value configuration row for a group.
type GroupConfigEntry struct {
	GroupID int64
	Key     string
	Value   string
}

// Point credit statuses.
const (
	CreditActive  = "active"
	CreditExpired = "expired"
	CreditRevoked = "revoked"
)

// PointCredit is an append-only grant of points to a player xor a group.
type PointCredit struct {
	ID        int64
	PlayerID  *int64
	GroupID   *int64
	Source    string
	Amount    int64
	Remaining int64
	EarnedAt  time.Time
	ExpiresAt *time.Time
	Status    string
}

// Debit reasons.
const (
	DebitFeatureActivation = "feature_activation"
	DebitManual            = "manual"
)

// Allocation records how much of a debit one credit funded.
type Allocation struct {
	CreditID int64 `json:"credit_id"`
	Amount   int64 `json:"amount"`
}

// PointDebit is one spend event with its per-credit allocation breakdown.
type PointDebit struct {
	ID              int64
	PlayerID        *int64
	GroupID         *int64
	SpentByPlayerID *int64
	Amount          int64
	Reason          string
	Allocations     []Allocation
	ActivationID    string
	CreatedAt       time.Time
}

// Feature scopes.
const (
	FeatureScopePlayer = "player"
	FeatureScopeGroup  = "group"
	FeatureScopeBoth   = "both"
)

// PremiumFeature is a purchasable feature definition.
type PremiumFeature struct {
	ID            int64
	Key           string
	Name          string
	Scope         string
	CostPoints    int64
	DurationDays  int
	AllowMultiple bool
	Active        bool
}

// Activation statuses.
const (
	ActivationActive    = "active"
	ActivationExpired   = "expired"
	ActivationCancelled = "cancelled"
)

// FeatureActivation is one active window of a premium feature.
type FeatureActivation struct {
	ID        string
	PlayerID  *int64
	GroupID   *int64
	FeatureID int64
	StartAt   time.Time
	EndAt     time.Time
	AutoRenew bool
	Status    string
}

// Recurring grant statuses and sources.
const (
	GrantActive    = "active"
	GrantPaused    = "paused"
	GrantCancelled = "cancelled"

	GrantSourceSubscription = "subscription"
	GrantSourceNitro        = "nitro"
	GrantSourceCustom       = "custom"
)

// RecurringPointGrant awards a player points on a monthly cadence.
type RecurringPointGrant struct {
	ID              int64
	PlayerID        int64
	Source          string
	ExternalRef     string
	AmountPerPeriod int64
	LastGrantedAt   *time.Time
	NextDueAt       *time.Time
	Status          string
}

// Submission statuses surfaced by the /check endpoint.
const (
	SubmissionProcessed = "processed"
	SubmissionRejected  = "rejected"
	SubmissionDuplicate = "duplicate"
)

// NPCTotal is an aggregated drop total for one NPC within a partition.
type NPCTotal struct {
	NPCID      int64
	Name       string
	TotalValue int64
}

// SubmissionReceipt tracks the outcome of one client submission by uuid.
type SubmissionReceipt struct {
	UniqueID  string
	Kind      string
	Status    string
	RecordID  int64
	Notice    string
	CreatedAt time.Time
}
