package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// ItemByID loads one item by game id.
func (s *Store) ItemByID(ctx context.Context, itemID int64) (storage.Item, error) {
	if err := s.ready(); err != nil {
		return storage.Item{}, err
	}
	var item storage.Item
	var stackable, noted int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, stackable, noted FROM items WHERE id = ?
`, itemID).Scan(&item.ID, &item.Name, &stackable, &noted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Item{}, storage.ErrNotFound
		}
		return storage.Item{}, fmt.Errorf("get item by id: %w", err)
	}
	item.Stackable = stackable != 0
	item.Noted = noted != 0
	return item, nil
}

// ItemByName loads one item by name, case-insensitively.
func (s *Store) ItemByName(ctx context.Context, name string) (storage.Item, error) {
	if err := s.ready(); err != nil {
		return storage.Item{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Item{}, storage.ErrNotFound
	}
	var item storage.Item
	var stackable, noted int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, stackable, noted FROM items WHERE name = ? COLLATE NOCASE
`, name).Scan(&item.ID, &item.Name, &stackable, &noted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Item{}, storage.ErrNotFound
		}
		return storage.Item{}, fmt.Errorf("get item by name: %w", err)
	}
	item.Stackable = stackable != 0
	item.Noted = noted != 0
	return item, nil
}

// CreateItem inserts one item row keyed by its game id.
func (s *Store) CreateItem(ctx context.Context, item storage.Item) error {
	if err := s.ready(); err != nil {
		return err
	}
	if item.ID <= 0 {
		return fmt.Errorf("item id is required")
	}
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return fmt.Errorf("item name is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO items (id, name, stackable, noted) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name
`, item.ID, name, boolToInt(item.Stackable), boolToInt(item.Noted)); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// NPCByID loads one NPC by game id.
func (s *Store) NPCByID(ctx context.Context, npcID int64) (storage.NPC, error) {
	if err := s.ready(); err != nil {
		return storage.NPC{}, err
	}
	var npc storage.NPC
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name FROM npcs WHERE id = ?
`, npcID).Scan(&npc.ID, &npc.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.NPC{}, storage.ErrNotFound
		}
		return storage.NPC{}, fmt.Errorf("get npc by id: %w", err)
	}
	return npc, nil
}

// NPCByName loads one NPC by name, case-insensitively.
func (s *Store) NPCByName(ctx context.Context, name string) (storage.NPC, error) {
	if err := s.ready(); err != nil {
		return storage.NPC{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.NPC{}, storage.ErrNotFound
	}
	var npc storage.NPC
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name FROM npcs WHERE name = ? COLLATE NOCASE
`, name).Scan(&npc.ID, &npc.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.NPC{}, storage.ErrNotFound
		}
		return storage.NPC{}, fmt.Errorf("get npc by name: %w", err)
	}
	return npc, nil
}

// CreateNPC inserts one NPC row keyed by its game id.
func (s *Store) CreateNPC(ctx context.Context, npc storage.NPC) error {
	if err := s.ready(); err != nil {
		return err
	}
	if npc.ID <= 0 {
		return fmt.Errorf("npc id is required")
	}
	name := strings.TrimSpace(npc.Name)
	if name == "" {
		return fmt.Errorf("npc name is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO npcs (id, name) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name
`, npc.ID, name); err != nil {
		return fmt.Errorf("insert npc: %w", err)
	}
	return nil
}
