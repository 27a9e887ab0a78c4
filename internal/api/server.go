// Package api exposes the ingest HTTP surface: the webhook intake, the
// submission status check, group configuration for the plugin, read-only
// leaderboard views, and JWT-gated admin operations.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/DropTracker-io/droptracker-core/internal/ingest"
	"github.com/DropTracker-io/droptracker-core/internal/leaderboard"
	"github.com/DropTracker-io/droptracker-core/internal/platform/timeouts"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

// checkMissLimit is how many failed /check lookups a uuid gets before the
// endpoint reports it processed, shielding clients from poison pills.
const checkMissLimit = 10

// checkMissCap bounds the in-memory miss counter map.
const checkMissCap = 4096

// maxUploadBytes bounds one multipart webhook request.
const maxUploadBytes = 10 << 20

// Store is the persistence surface the HTTP handlers need.
type Store interface {
	ReceiptByUniqueID(ctx context.Context, uniqueID string) (storage.SubmissionReceipt, error)
	PlayerByDisplayName(ctx context.Context, displayName string) (storage.Player, error)
	PlayerByID(ctx context.Context, playerID int64) (storage.Player, error)
	GroupsForPlayer(ctx context.Context, playerID int64) ([]storage.Group, error)
	GroupConfig(ctx context.Context, groupID int64) ([]storage.GroupConfigEntry, error)
	SearchPlayers(ctx context.Context, query string, limit int) ([]storage.Player, error)
	SearchGroups(ctx context.Context, query string, limit int) ([]storage.Group, error)
	TopNPCs(ctx context.Context, partition int, limit int) ([]storage.NPCTotal, error)
	DropsForPlayer(ctx context.Context, playerID int64) ([]storage.Drop, error)
	ItemByID(ctx context.Context, itemID int64) (storage.Item, error)
	Ping(ctx context.Context) error
}

// Processor runs submissions through the ingest pipeline.
type Processor interface {
	Process(ctx context.Context, sub ingest.Submission) ingest.Result
}

// Boards is the leaderboard read/rebuild surface.
type Boards interface {
	TopPlayers(ctx context.Context, bucket string, groupID, npcID *int64, limit int) ([]leaderboard.Entry, error)
	ForceRebuild(ctx context.Context, playerID int64, drops []leaderboard.DropUpdate) error
	Ping(ctx context.Context) error
}

// Syncer reconciles group membership on demand.
type Syncer interface {
	SyncAll(ctx context.Context) error
}

// Attachments stores uploaded images and returns their public URLs.
type Attachments interface {
	Save(externalPlayerID int64, kind, subfolder, name, contentType string, r io.Reader) (string, error)
}

// Config defines the inputs for the API server.
type Config struct {
	Addr   string
	JWTKey string
}

// Server hosts the ingest HTTP API.
type Server struct {
	store       Store
	processor   Processor
	boards      Boards
	syncer      Syncer
	attachments Attachments
	clock       func() time.Time
	jwtKey      []byte

	httpServer *http.Server

	mu          sync.Mutex
	checkMisses map[string]int
}

// NewServer builds a configured API server. A nil clock uses time.Now; a nil
// attachments sink disables image uploads.
func NewServer(cfg Config, store Store, processor Processor, boards Boards, syncer Syncer,
	attachments Attachments, clock func() time.Time) (*Server, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("listen address is required")
	}
	if clock == nil {
		clock = time.Now
	}
	s := &Server{
		store:       store,
		processor:   processor,
		boards:      boards,
		syncer:      syncer,
		attachments: attachments,
		clock:       clock,
		jwtKey:      []byte(strings.TrimSpace(cfg.JWTKey)),
		checkMisses: make(map[string]int),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/submit", s.handleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/check", s.handleCheck).Methods(http.MethodPost)
	router.HandleFunc("/load_config", s.handleLoadConfig).Methods(http.MethodGet)
	router.HandleFunc("/top_players", s.handleTopPlayers).Methods(http.MethodGet)
	router.HandleFunc("/top_groups", s.handleTopGroups).Methods(http.MethodGet)
	router.HandleFunc("/top_npcs", s.handleTopNPCs).Methods(http.MethodGet)
	router.HandleFunc("/player_search", s.handlePlayerSearch).Methods(http.MethodGet)
	router.HandleFunc("/group_search", s.handleGroupSearch).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireJWT)
	admin.HandleFunc("/rebuild", s.handleRebuild).Methods(http.MethodPost)
	admin.HandleFunc("/group_sync", s.handleGroupSync).Methods(http.MethodPost)
	return router
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves the API until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("api: listening on %s", s.httpServer.Addr)
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	}
}
