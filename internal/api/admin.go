package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DropTracker-io/droptracker-core/internal/leaderboard"
	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// requireJWT guards the admin subrouter with a signed bearer token.
func (s *Server) requireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtKey) == 0 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin endpoints are disabled"})
			return
		}
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bearer token is required"})
			return
		}
		token, err := jwt.Parse(strings.TrimSpace(raw), func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.jwtKey, nil
		})
		if err != nil || !token.Valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRebuild recomputes one player's Redis aggregates from the drop table.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID   int64  `json:"player_id"`
		PlayerName string `json:"player_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeValidation, "parse rebuild request", err))
		return
	}

	var player storage.Player
	var err error
	switch {
	case req.PlayerID > 0:
		player, err = s.store.PlayerByID(r.Context(), req.PlayerID)
	case strings.TrimSpace(req.PlayerName) != "":
		player, err = s.store.PlayerByDisplayName(r.Context(), req.PlayerName)
	default:
		writeError(w, apperrors.New(apperrors.CodeValidation, "player_id or player_name is required"))
		return
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, apperrors.New(apperrors.CodeNotFound, "player not found"))
			return
		}
		writeError(w, err)
		return
	}

	drops, err := s.store.DropsForPlayer(r.Context(), player.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	groups, err := s.store.GroupsForPlayer(r.Context(), player.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	var groupIDs []int64
	for _, group := range groups {
		if group.ID == storage.GlobalGroupID {
			continue
		}
		groupIDs = append(groupIDs, group.ID)
	}

	// Item names are denormalized into the recent-item payloads; resolve
	// them once per distinct item.
	itemNames := make(map[int64]string)
	updates := make([]leaderboard.DropUpdate, 0, len(drops))
	for _, drop := range drops {
		name, ok := itemNames[drop.ItemID]
		if !ok {
			if item, err := s.store.ItemByID(r.Context(), drop.ItemID); err == nil {
				name = item.Name
			}
			itemNames[drop.ItemID] = name
		}
		updates = append(updates, leaderboard.DropUpdate{
			PlayerID:   drop.PlayerID,
			GroupIDs:   groupIDs,
			NPCID:      drop.NPCID,
			ItemID:     drop.ItemID,
			ItemName:   name,
			Quantity:   drop.Quantity,
			Value:      drop.Value,
			ImageURL:   drop.ImageURL,
			ReceivedAt: drop.ReceivedAt,
		})
	}

	if err := s.boards.ForceRebuild(r.Context(), player.ID, updates); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player_id": player.ID,
		"drops":     len(updates),
		"message":   "rebuild complete",
	})
}

// handleGroupSync runs a full membership reconciliation immediately.
func (s *Server) handleGroupSync(w http.ResponseWriter, r *http.Request) {
	if err := s.syncer.SyncAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, "group sync complete")
}
