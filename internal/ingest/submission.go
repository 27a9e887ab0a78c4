package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
)

// Submission kinds handled by the dispatcher.
const (
	KindDrop         = "drop"
	KindPB           = "pb"
	KindCA           = "ca"
	KindClog         = "clog"
	KindPet          = "pet"
	KindAdventureLog = "adventure_log"
	KindNoop         = "noop"
)

// kindByType maps the embed `type` field to a processor kind. Experience and
// quest events are accepted but not processed yet.
var kindByType = map[string]string{
	"drop":                 KindDrop,
	"other":                KindDrop,
	"npc":                  KindDrop,
	"personal_best":        KindPB,
	"kill_time":            KindPB,
	"npc_kill":             KindPB,
	"combat_achievement":   KindCA,
	"collection_log":       KindClog,
	"pet":                  KindPet,
	"adventure_log":        KindAdventureLog,
	"experience_update":    KindNoop,
	"experience_milestone": KindNoop,
	"level_up":             KindNoop,
	"quest_completion":     KindNoop,
}

// KindFor resolves an embed type value to a processor kind.
func KindFor(typeValue string) (string, bool) {
	kind, ok := kindByType[strings.ToLower(strings.TrimSpace(typeValue))]
	return kind, ok
}

// Submission is one flattened embed ready for processing.
type Submission struct {
	Kind        string
	PlayerName  string
	AccountHash string
	AuthKey     string
	UniqueID    string
	ImageURL    string
	UsedAPI     bool
	ReceivedAt  time.Time

	// Drop and collection log.
	ItemID   int64
	ItemName string
	NPCName  string
	Quantity int64
	Value    int64

	// Personal best.
	TeamSize       string
	CurrentTimeMS  int64
	PersonalBestMS int64
	IsNewPB        bool

	// Combat achievement.
	TaskName string
	Tier     string

	// Collection log.
	ReportedSlots int

	// Pet.
	PetName      string
	DuplicatePet bool

	// Adventure log.
	AdventureLog string
	PetItemIDs   []int64
}

func firstField(fields map[string]string, names ...string) string {
	for _, name := range names {
		if value, ok := fields[name]; ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func fieldInt(fields map[string]string, names ...string) int64 {
	raw := firstField(fields, names...)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func fieldBool(fields map[string]string, names ...string) bool {
	return domain.CoerceConfig(firstField(fields, names...)).Truthy()
}

func fieldDuration(fields map[string]string, names ...string) int64 {
	raw := firstField(fields, names...)
	if raw == "" {
		return 0
	}
	ms, err := domain.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return ms
}

// FromFields builds a Submission from a flattened embed field map. Field
// names follow the plugin's webhook format, with a few legacy aliases.
func FromFields(typeValue string, fields map[string]string, receivedAt time.Time) (Submission, error) {
	kind, ok := KindFor(typeValue)
	if !ok {
		return Submission{}, apperrors.New(apperrors.CodeValidation,
			"unrecognized submission type "+strconv.Quote(typeValue))
	}
	sub := Submission{
		Kind:        kind,
		PlayerName:  firstField(fields, "player_name", "player"),
		AccountHash: firstField(fields, "acc_hash", "account_hash"),
		AuthKey:     firstField(fields, "auth_key"),
		UniqueID:    firstField(fields, "unique_id", "id", "uuid"),
		ImageURL:    firstField(fields, "image_url", "downloaded_url"),
		UsedAPI:     fieldBool(fields, "used_api", "webhook"),
		ReceivedAt:  receivedAt,
	}
	if kind == KindNoop {
		return sub, nil
	}
	if sub.PlayerName == "" {
		return Submission{}, apperrors.New(apperrors.CodeValidation, "player name is required")
	}

	switch kind {
	case KindDrop:
		sub.ItemID = fieldInt(fields, "item_id", "id_of_item")
		sub.ItemName = firstField(fields, "item", "item_name")
		sub.NPCName = firstField(fields, "source", "npc", "npc_name")
		sub.Quantity = fieldInt(fields, "quantity", "amount")
		if sub.Quantity <= 0 {
			sub.Quantity = 1
		}
		sub.Value = fieldInt(fields, "value")
		if sub.ItemName == "" {
			return Submission{}, apperrors.New(apperrors.CodeValidation, "item name is required")
		}
		if sub.NPCName == "" {
			return Submission{}, apperrors.New(apperrors.CodeValidation, "npc name is required")
		}
	case KindPB:
		sub.NPCName = firstField(fields, "boss_name", "npc", "npc_name", "source")
		sub.TeamSize = firstField(fields, "team_size")
		sub.CurrentTimeMS = fieldDuration(fields, "time", "current_time", "kill_time")
		sub.PersonalBestMS = fieldDuration(fields, "best_time", "personal_best")
		sub.IsNewPB = fieldBool(fields, "is_new_pb", "is_pb")
		if sub.NPCName == "" {
			return Submission{}, apperrors.New(apperrors.CodeValidation, "boss name is required")
		}
	case KindCA:
		sub.TaskName = firstField(fields, "task", "task_name")
		sub.Tier = firstField(fields, "tier")
		if sub.TaskName == "" {
			return Submission{}, apperrors.New(apperrors.CodeValidation, "task name is required")
		}
	case KindClog:
		sub.ItemName = firstField(fields, "item", "item_name")
		sub.NPCName = firstField(fields, "source", "npc", "npc_name")
		sub.ReportedSlots = int(fieldInt(fields, "slots", "reported_slots"))
		if sub.ItemName == "" {
			return Submission{}, apperrors.New(apperrors.CodeValidation, "item name is required")
		}
		if sub.NPCName == "" {
			return Submission{}, apperrors.New(apperrors.CodeValidation, "source npc is required")
		}
	case KindPet:
		sub.PetName = firstField(fields, "pet_name", "item", "item_name")
		sub.NPCName = firstField(fields, "source", "npc")
		sub.DuplicatePet = fieldBool(fields, "duplicate", "previously_owned")
		if sub.PetName == "" {
			return Submission{}, apperrors.New(apperrors.CodeValidation, "pet name is required")
		}
	case KindAdventureLog:
		sub.AdventureLog = firstField(fields, "adventure_log", "pbs", "log")
		for _, raw := range strings.Split(firstField(fields, "pet_ids", "pets"), ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				continue
			}
			sub.PetItemIDs = append(sub.PetItemIDs, id)
		}
	}
	return sub, nil
}

// Result is the outcome of processing one submission.
type Result struct {
	Kind     string
	UniqueID string
	Status   string // storage.SubmissionProcessed | Rejected | Duplicate
	Notice   string
	RecordID int64
	Err      error
}
