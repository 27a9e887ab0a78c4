package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/DropTracker-io/droptracker-core/internal/domain"
	"github.com/DropTracker-io/droptracker-core/internal/ingest"
	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/platform/timeouts"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// embedPayload mirrors the webhook multipart payload_json document.
type embedPayload struct {
	Embeds []struct {
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"embeds"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		writeJSON(w, http.StatusUnsupportedMediaType,
			map[string]string{"error": "multipart form data is required"})
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeValidation, "parse multipart form", err))
		return
	}

	var payload embedPayload
	raw := r.FormValue("payload_json")
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeValidation, "parse payload_json", err))
		return
	}
	if len(payload.Embeds) == 0 {
		writeError(w, apperrors.New(apperrors.CodeValidation, "payload contains no embeds"))
		return
	}

	var last ingest.Result
	for _, embed := range payload.Embeds {
		fields := make(map[string]string, len(embed.Fields))
		for _, field := range embed.Fields {
			fields[strings.ToLower(strings.TrimSpace(field.Name))] = field.Value
		}
		sub, err := ingest.FromFields(fields["type"], fields, s.clock())
		if err != nil {
			last = ingest.Result{Status: storage.SubmissionRejected, Notice: err.Error(), Err: err}
			continue
		}
		if sub.ImageURL == "" {
			sub.ImageURL = s.saveAttachment(r, sub)
		}
		last = s.processor.Process(r.Context(), sub)
	}

	if last.Err != nil {
		writeError(w, last.Err)
		return
	}
	writeMessage(w, last.Notice)
}

// saveAttachment stores the uploaded file, if any, under the submitting
// player. Failures degrade to a log line; the submission proceeds without
// an image.
func (s *Server) saveAttachment(r *http.Request, sub ingest.Submission) string {
	if s.attachments == nil {
		return ""
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			log.Printf("api: read upload: %v", err)
		}
		return ""
	}
	defer file.Close()

	player, err := s.store.PlayerByDisplayName(r.Context(), sub.PlayerName)
	if err != nil {
		log.Printf("api: attachment for unknown player %q: %v", sub.PlayerName, err)
		return ""
	}
	url, err := s.attachments.Save(player.ExternalID, sub.Kind, sub.NPCName,
		header.Filename, contentTypeOf(header), file)
	if err != nil {
		log.Printf("api: save attachment: %v", err)
		return ""
	}
	return url
}

func contentTypeOf(header *multipart.FileHeader) string {
	if header == nil {
		return ""
	}
	return header.Header.Get("Content-Type")
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UUID) == "" {
		writeError(w, apperrors.New(apperrors.CodeValidation, "uuid is required"))
		return
	}
	uuid := strings.TrimSpace(req.UUID)

	receipt, err := s.store.ReceiptByUniqueID(r.Context(), uuid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"processed": s.recordCheckMiss(uuid),
				"status":    "unknown",
				"uuid":      uuid,
			})
			return
		}
		writeError(w, err)
		return
	}
	s.clearCheckMiss(uuid)
	writeJSON(w, http.StatusOK, map[string]any{
		"processed": true,
		"status":    receipt.Status,
		"uuid":      receipt.UniqueID,
		"type":      receipt.Kind,
		"id":        receipt.RecordID,
	})
}

// recordCheckMiss counts a failed lookup. After checkMissLimit misses the
// uuid is reported processed so a client cannot poll a poison pill forever.
func (s *Server) recordCheckMiss(uuid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.checkMisses) >= checkMissCap {
		s.checkMisses = make(map[string]int)
	}
	s.checkMisses[uuid]++
	return s.checkMisses[uuid] >= checkMissLimit
}

func (s *Server) clearCheckMiss(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkMisses, uuid)
}

func (s *Server) handleLoadConfig(w http.ResponseWriter, r *http.Request) {
	playerName := strings.TrimSpace(r.URL.Query().Get("player_name"))
	if playerName == "" {
		writeError(w, apperrors.New(apperrors.CodeValidation, "player_name is required"))
		return
	}
	player, err := s.store.PlayerByDisplayName(r.Context(), playerName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, apperrors.New(apperrors.CodeAuthFailure, "player is not registered"))
			return
		}
		writeError(w, err)
		return
	}
	accHash := strings.TrimSpace(r.URL.Query().Get("acc_hash"))
	if player.AccountHash != "" && accHash != player.AccountHash {
		writeError(w, apperrors.New(apperrors.CodeAuthFailure, "account hash mismatch"))
		return
	}

	groups, err := s.store.GroupsForPlayer(r.Context(), player.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	type groupConfig struct {
		GroupID int64             `json:"group_id"`
		Name    string            `json:"name"`
		Config  map[string]string `json:"config"`
	}
	out := make([]groupConfig, 0, len(groups))
	for _, group := range groups {
		entries, err := s.store.GroupConfig(r.Context(), group.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, groupConfig{
			GroupID: group.ID,
			Name:    group.Name,
			Config:  ingest.NewSettings(entries).Raw(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"player_id": player.ID, "groups": out})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// queryBucket resolves the partition query parameter, defaulting to the
// current monthly partition.
func (s *Server) queryBucket(r *http.Request) string {
	if bucket := strings.TrimSpace(r.URL.Query().Get("partition")); bucket != "" {
		return bucket
	}
	return strconv.Itoa(domain.MonthlyPartition(s.clock()))
}

func (s *Server) handleTopPlayers(w http.ResponseWriter, r *http.Request) {
	var groupID *int64
	if raw := strings.TrimSpace(r.URL.Query().Get("group_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, apperrors.New(apperrors.CodeValidation, "group_id must be an integer"))
			return
		}
		groupID = &id
	}
	entries, err := s.boards.TopPlayers(r.Context(), s.queryBucket(r), groupID, nil, queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	type ranked struct {
		Rank       int    `json:"rank"`
		PlayerID   int64  `json:"player_id"`
		PlayerName string `json:"player_name,omitempty"`
		Score      int64  `json:"total_loot"`
	}
	out := make([]ranked, 0, len(entries))
	for i, entry := range entries {
		row := ranked{Rank: i + 1, PlayerID: entry.PlayerID, Score: entry.Score}
		if player, err := s.store.PlayerByID(r.Context(), entry.PlayerID); err == nil {
			row.PlayerName = player.DisplayName
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": out})
}

func (s *Server) handleTopGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.SearchGroups(r.Context(), "", queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	bucket := s.queryBucket(r)
	type rankedGroup struct {
		GroupID int64  `json:"group_id"`
		Name    string `json:"name"`
		Total   int64  `json:"total_loot"`
	}
	out := make([]rankedGroup, 0, len(groups))
	for _, group := range groups {
		if group.ID == storage.GlobalGroupID {
			// The global group holds everyone; it is excluded from
			// cross-group rankings.
			continue
		}
		entries, err := s.boards.TopPlayers(r.Context(), bucket, &group.ID, nil, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		var total int64
		for _, entry := range entries {
			total += entry.Score
		}
		out = append(out, rankedGroup{GroupID: group.ID, Name: group.Name, Total: total})
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (s *Server) handleTopNPCs(w http.ResponseWriter, r *http.Request) {
	partition := queryInt(r, "partition", domain.MonthlyPartition(s.clock()))
	totals, err := s.store.TopNPCs(r.Context(), partition, queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"npcs": totals})
}

func (s *Server) handlePlayerSearch(w http.ResponseWriter, r *http.Request) {
	players, err := s.store.SearchPlayers(r.Context(), r.URL.Query().Get("query"), queryInt(r, "limit", 25))
	if err != nil {
		writeError(w, err)
		return
	}
	type result struct {
		PlayerID    int64  `json:"player_id"`
		DisplayName string `json:"display_name"`
		TotalLevel  int    `json:"total_level"`
	}
	out := make([]result, 0, len(players))
	for _, player := range players {
		out = append(out, result{PlayerID: player.ID, DisplayName: player.DisplayName, TotalLevel: player.TotalLevel})
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": out})
}

func (s *Server) handleGroupSearch(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.SearchGroups(r.Context(), r.URL.Query().Get("query"), queryInt(r, "limit", 25))
	if err != nil {
		writeError(w, err)
		return
	}
	type result struct {
		GroupID     int64  `json:"group_id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	out := make([]result, 0, len(groups))
	for _, group := range groups {
		out = append(out, result{GroupID: group.ID, Name: group.Name, Description: group.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"redis": "ok", "database": "ok"}
	healthy := true

	redisCtx, cancelRedis := context.WithTimeout(r.Context(), timeouts.HealthRedis)
	if err := s.boards.Ping(redisCtx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}
	cancelRedis()

	dbCtx, cancelDB := context.WithTimeout(r.Context(), timeouts.HealthDB)
	if err := s.store.Ping(dbCtx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	cancelDB()

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, "pong")
}
