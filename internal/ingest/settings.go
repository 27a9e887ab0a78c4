package ingest

import (
	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// defaultMinValueToNotify is the unit-value notification threshold applied
// when a group has not configured one.
const defaultMinValueToNotify = 2_500_000

// Settings is a typed view over one group's configuration rows. Absent keys
// fall back to defaults; notification gates default to on.
type Settings struct {
	values map[string]domain.ConfigValue
}

// NewSettings builds the settings view from raw configuration rows.
func NewSettings(entries []storage.GroupConfigEntry) Settings {
	values := make(map[string]domain.ConfigValue, len(entries))
	for _, entry := range entries {
		values[entry.Key] = domain.CoerceConfig(entry.Value)
	}
	return Settings{values: values}
}

func (s Settings) boolOr(key string, fallback bool) bool {
	value, ok := s.values[key]
	if !ok {
		return fallback
	}
	if b, isBool := value.Bool(); isBool {
		return b
	}
	return fallback
}

func (s Settings) intOr(key string, fallback int64) int64 {
	value, ok := s.values[key]
	if !ok {
		return fallback
	}
	return value.Int(fallback)
}

func (s Settings) stringOr(key string, fallback string) string {
	value, ok := s.values[key]
	if !ok || value.IsNull() {
		return fallback
	}
	return value.String()
}

// MinValueToNotify is the unit-value threshold for drop notifications.
func (s Settings) MinValueToNotify() int64 {
	return s.intOr("minimum_value_to_notify", defaultMinValueToNotify)
}

// SendStacks reports whether stacked value may cross the drop threshold.
func (s Settings) SendStacks() bool {
	return s.boolOr("send_stacks_of_items", false)
}

// NotifyPBs gates personal-best notifications.
func (s Settings) NotifyPBs() bool { return s.boolOr("notify_pbs", true) }

// NotifyClogs gates collection-log notifications.
func (s Settings) NotifyClogs() bool { return s.boolOr("notify_clogs", true) }

// NotifyCAs gates combat-achievement notifications.
func (s Settings) NotifyCAs() bool { return s.boolOr("notify_cas", true) }

// NotifyPets gates pet notifications.
func (s Settings) NotifyPets() bool { return s.boolOr("notify_pets", true) }

// NotifyLevels gates level-up notifications.
func (s Settings) NotifyLevels() bool { return s.boolOr("notify_levels", true) }

// LevelMinimum is the threshold for level events.
func (s Settings) LevelMinimum() int64 {
	return s.intOr("level_minimum_for_notifications", 0)
}

// OnlyWithImages suppresses notifications that carry no attachment.
func (s Settings) OnlyWithImages() bool {
	return s.boolOr("only_send_messages_with_images", false)
}

// MinCATier is the minimum combat-achievement tier to notify on; empty or
// "disabled" means no tier gate.
func (s Settings) MinCATier() string {
	return s.stringOr("min_ca_tier_to_notify", "")
}

// PBDisplayCount is a leaderboard rendering hint for downstream consumers.
func (s Settings) PBDisplayCount() int64 {
	return s.intOr("number_of_pbs_to_display", 3)
}

// ChannelID is the downstream delivery hint.
func (s Settings) ChannelID() string { return s.stringOr("channel_id_to_send_logs", "") }

// WelcomeMessage is group-configured content for downstream delivery.
func (s Settings) WelcomeMessage() string { return s.stringOr("welcome_message", "") }

// LatestNews is group-configured content for downstream delivery.
func (s Settings) LatestNews() string { return s.stringOr("latest_news", "") }

// Raw returns the configured keys as plain strings, for the config endpoint.
func (s Settings) Raw() map[string]string {
	out := make(map[string]string, len(s.values))
	for key, value := range s.values {
		out[key] = value.String()
	}
	return out
}
