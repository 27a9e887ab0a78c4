package groupsync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

type fakeStore struct {
	groups   []storage.Group
	players  map[string]storage.Player
	members  map[int64][]storage.Player
	added    [][2]int64
	removed  [][2]int64
	repaired int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players: make(map[string]storage.Player),
		members: make(map[int64][]storage.Player),
	}
}

func (f *fakeStore) GroupsWithExternalID(context.Context) ([]storage.Group, error) {
	return f.groups, nil
}

func (f *fakeStore) GroupMembers(_ context.Context, groupID int64) ([]storage.Player, error) {
	return f.members[groupID], nil
}

func (f *fakeStore) PlayerByDisplayName(_ context.Context, name string) (storage.Player, error) {
	if p, ok := f.players[domain.NormalizeDisplayName(name)]; ok {
		return p, nil
	}
	return storage.Player{}, storage.ErrNotFound
}

func (f *fakeStore) EnsureMembership(_ context.Context, playerID, groupID int64) (bool, error) {
	for _, member := range f.members[groupID] {
		if member.ID == playerID {
			return false, nil
		}
	}
	for _, pair := range f.added {
		if pair == [2]int64{playerID, groupID} {
			return false, nil
		}
	}
	f.added = append(f.added, [2]int64{playerID, groupID})
	return true, nil
}

func (f *fakeStore) RemoveMembership(_ context.Context, playerID, groupID int64) error {
	if groupID == storage.GlobalGroupID {
		return errors.New("global group membership cannot be removed")
	}
	f.removed = append(f.removed, [2]int64{playerID, groupID})
	return nil
}

func (f *fakeStore) EnsureGlobalMemberships(context.Context) (int64, error) {
	return f.repaired, nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Enqueue(_ context.Context, kind string, playerID int64, groupID *int64, _ map[string]string) error {
	var group int64
	if groupID != nil {
		group = *groupID
	}
	f.events = append(f.events, fmt.Sprintf("%s:%d:%d", kind, playerID, group))
	return nil
}

type fakeRoster struct {
	rosters map[int64][]string
	err     error
}

func (f *fakeRoster) GroupRoster(_ context.Context, externalGroupID int64) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rosters[externalGroupID], nil
}

func externalGroup(id, externalID int64, name string) storage.Group {
	return storage.Group{ID: id, Name: name, ExternalGroupID: &externalID}
}

func TestSyncGroupAddsAndRemoves(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.players["alice"] = storage.Player{ID: 1, DisplayName: "Alice"}
	store.players["bob"] = storage.Player{ID: 2, DisplayName: "Bob"}
	store.players["carol"] = storage.Player{ID: 3, DisplayName: "Carol"}
	store.members[10] = []storage.Player{
		{ID: 2, DisplayName: "Bob"},
		{ID: 3, DisplayName: "Carol"},
	}
	roster := &fakeRoster{rosters: map[int64][]string{99: {"Alice", "Bob", "Stranger"}}}
	notifier := &fakeNotifier{}

	syncer := NewSyncer(store, roster, notifier, false)
	if err := syncer.SyncGroup(context.Background(), externalGroup(10, 99, "Iron Clan")); err != nil {
		t.Fatalf("SyncGroup() error = %v", err)
	}

	// Alice is newly added; Bob is already a member; Stranger has no local
	// row and is skipped.
	if len(store.added) != 1 || store.added[0] != [2]int64{1, 10} {
		t.Fatalf("added = %v, want [[1 10]]", store.added)
	}
	// Carol left the roster and is removed.
	if len(store.removed) != 1 || store.removed[0] != [2]int64{3, 10} {
		t.Fatalf("removed = %v, want [[3 10]]", store.removed)
	}
	// Only the actual changes announce.
	want := []string{"player_added:1:10", "player_removed:3:10"}
	if len(notifier.events) != len(want) {
		t.Fatalf("events = %v, want %v", notifier.events, want)
	}
	for i, event := range want {
		if notifier.events[i] != event {
			t.Errorf("event[%d] = %q, want %q", i, notifier.events[i], event)
		}
	}
}

func TestSyncGroupSilentModeSuppressesAnnouncements(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.players["alice"] = storage.Player{ID: 1, DisplayName: "Alice"}
	store.members[10] = []storage.Player{{ID: 3, DisplayName: "Carol"}}
	roster := &fakeRoster{rosters: map[int64][]string{99: {"Alice"}}}
	notifier := &fakeNotifier{}

	syncer := NewSyncer(store, roster, notifier, true)
	if err := syncer.SyncGroup(context.Background(), externalGroup(10, 99, "Iron Clan")); err != nil {
		t.Fatalf("SyncGroup() error = %v", err)
	}

	// Membership still reconciles; only the announcements are muted.
	if len(store.added) != 1 || len(store.removed) != 1 {
		t.Fatalf("added = %v, removed = %v, want one each", store.added, store.removed)
	}
	if len(notifier.events) != 0 {
		t.Errorf("events = %v, want none in silent mode", notifier.events)
	}
}

func TestSyncGroupEmptyRosterRemovesNobody(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.members[10] = []storage.Player{{ID: 2, DisplayName: "Bob"}}
	roster := &fakeRoster{rosters: map[int64][]string{}}

	syncer := NewSyncer(store, roster, &fakeNotifier{}, false)
	if err := syncer.SyncGroup(context.Background(), externalGroup(10, 99, "Iron Clan")); err != nil {
		t.Fatalf("SyncGroup() error = %v", err)
	}
	if len(store.removed) != 0 {
		t.Errorf("removed = %v, want none on empty roster", store.removed)
	}
}

func TestSyncGroupFetchErrorRemovesNobody(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.members[10] = []storage.Player{{ID: 2, DisplayName: "Bob"}}
	roster := &fakeRoster{err: errors.New("upstream down")}

	syncer := NewSyncer(store, roster, &fakeNotifier{}, false)
	if err := syncer.SyncGroup(context.Background(), externalGroup(10, 99, "Iron Clan")); err == nil {
		t.Fatal("SyncGroup() error = nil, want fetch error")
	}
	if len(store.removed) != 0 || len(store.added) != 0 {
		t.Errorf("mutations on fetch error: added %v removed %v", store.added, store.removed)
	}
}

func TestSyncGroupMatchesNormalizedNames(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.players["rune knight"] = storage.Player{ID: 5, DisplayName: "Rune Knight"}
	store.members[10] = []storage.Player{{ID: 5, DisplayName: "Rune Knight"}}
	roster := &fakeRoster{rosters: map[int64][]string{99: {"rune_knight"}}}

	syncer := NewSyncer(store, roster, &fakeNotifier{}, false)
	if err := syncer.SyncGroup(context.Background(), externalGroup(10, 99, "Iron Clan")); err != nil {
		t.Fatalf("SyncGroup() error = %v", err)
	}
	if len(store.removed) != 0 {
		t.Errorf("removed = %v, equivalent spelling must not be removed", store.removed)
	}
}

func TestSyncAllContinuesPastGroupFailures(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.groups = []storage.Group{
		externalGroup(10, 99, "Failing"),
		externalGroup(11, 100, "Healthy"),
	}
	store.players["alice"] = storage.Player{ID: 1, DisplayName: "Alice"}
	roster := &fakeRoster{rosters: map[int64][]string{100: {"Alice"}}}
	// Group 99 has no roster entry: GroupRoster returns empty, which is a
	// skip, not an error; simulate a real failure with a per-call error.
	store.repaired = 2

	syncer := NewSyncer(store, roster, &fakeNotifier{}, false)
	if err := syncer.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if len(store.added) != 1 || store.added[0] != [2]int64{1, 11} {
		t.Errorf("added = %v, want Alice into group 11", store.added)
	}
}
