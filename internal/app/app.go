// Package app wires the ingest pipeline together and supervises its
// long-lived loops: the HTTP server, the board refresh actor, the PB
// coalescing flush tick, and the cron jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/DropTracker-io/droptracker-core/internal/api"
	"github.com/DropTracker-io/droptracker-core/internal/attach"
	"github.com/DropTracker-io/droptracker-core/internal/dedup"
	"github.com/DropTracker-io/droptracker-core/internal/extern"
	"github.com/DropTracker-io/droptracker-core/internal/groupsync"
	"github.com/DropTracker-io/droptracker-core/internal/ingest"
	"github.com/DropTracker-io/droptracker-core/internal/leaderboard"
	"github.com/DropTracker-io/droptracker-core/internal/notify"
	"github.com/DropTracker-io/droptracker-core/internal/points"
	"github.com/DropTracker-io/droptracker-core/internal/resolve"
	"github.com/DropTracker-io/droptracker-core/internal/storage/sqlite"
)

// Cron cadences for the background ledger and membership work.
const (
	expirySweepSchedule      = "@every 1m"
	recurringGrantSchedule   = "@every 15m"
	defaultGroupSyncSchedule = "@every 3h"
)

// pbFlushInterval drives the coalescing-window drain. It must be shorter
// than the coalescing window itself.
const pbFlushInterval = time.Second

// Config holds the runtime wiring inputs.
type Config struct {
	Addr              string
	DBPath            string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	JWTKey            string
	Footer            string
	PointsDivisor     int64
	AttachRoot        string
	AttachBaseURL     string
	MetadataBaseURL   string
	SemanticBaseURL   string
	PriceBaseURL      string
	GroupSyncSchedule string
	GroupSyncSilent   bool
	QueueLength       int
}

// pointsStore adapts the concrete sqlite transaction type to the ledger's
// transaction interface.
type pointsStore struct {
	*sqlite.Store
}

func (s pointsStore) Begin(ctx context.Context) (points.TxOps, error) {
	return s.Store.BeginPointsTx(ctx)
}

// App owns the wired pipeline and its background loops.
type App struct {
	store     *sqlite.Store
	rdb       *redis.Client
	server    *api.Server
	processor *ingest.Service
	refresher *ingest.Refresher
	cron      *cron.Cron
}

// New wires the full pipeline from configuration.
func New(cfg Config) (*App, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	boards := leaderboard.NewStore(rdb)

	clients := extern.NewClients(extern.Config{
		MetadataBaseURL: cfg.MetadataBaseURL,
		SemanticBaseURL: cfg.SemanticBaseURL,
		PriceBaseURL:    cfg.PriceBaseURL,
	}, nil)

	queue := notify.NewQueue(store, nil, nil)
	resolver := resolve.NewResolver(store, clients, queue, nil)
	gate := resolve.NewAuthGate(store, nil)
	checker := dedup.NewChecker(store)
	ledger := points.NewService(pointsStore{store}, nil, nil)
	syncer := groupsync.NewSyncer(store, clients, queue, cfg.GroupSyncSilent)

	// A refresh request becomes a pending notification for the delivery
	// side; the actor only enforces the per-group pacing.
	refresher := ingest.NewRefresher(func(ctx context.Context, groupID int64) {
		err := queue.Enqueue(ctx, "board_refresh", 0, &groupID, map[string]string{
			"group_id": strconv.FormatInt(groupID, 10),
		})
		if err != nil {
			log.Printf("app: enqueue board refresh for group %d: %v", groupID, err)
		}
	}, cfg.QueueLength, nil)

	processor := ingest.NewService(store, resolver, gate, checker, boards, ledger,
		queue, clients, refresher,
		ingest.Config{PointsDivisor: cfg.PointsDivisor, Footer: cfg.Footer}, nil)

	var sink api.Attachments
	if cfg.AttachRoot != "" {
		sink = attach.NewSink(cfg.AttachRoot, cfg.AttachBaseURL)
	}
	server, err := api.NewServer(api.Config{Addr: cfg.Addr, JWTKey: cfg.JWTKey},
		store, processor, boards, syncer, sink, nil)
	if err != nil {
		_ = store.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("build api server: %w", err)
	}

	scheduler, err := buildScheduler(cfg, ledger, syncer)
	if err != nil {
		_ = store.Close()
		_ = rdb.Close()
		return nil, err
	}

	return &App{
		store:     store,
		rdb:       rdb,
		server:    server,
		processor: processor,
		refresher: refresher,
		cron:      scheduler,
	}, nil
}

func buildScheduler(cfg Config, ledger *points.Service, syncer *groupsync.Syncer) (*cron.Cron, error) {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(expirySweepSchedule, func() {
		if err := ledger.ExpireSweep(context.Background()); err != nil {
			log.Printf("app: expiry sweep: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule expiry sweep: %w", err)
	}
	if _, err := scheduler.AddFunc(recurringGrantSchedule, func() {
		if err := ledger.RunRecurringGrants(context.Background()); err != nil {
			log.Printf("app: recurring grants: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule recurring grants: %w", err)
	}
	syncSchedule := cfg.GroupSyncSchedule
	if syncSchedule == "" {
		syncSchedule = defaultGroupSyncSchedule
	}
	if _, err := scheduler.AddFunc(syncSchedule, func() {
		if err := syncer.SyncAll(context.Background()); err != nil {
			log.Printf("app: group sync: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule group sync: %w", err)
	}
	return scheduler, nil
}

// Run serves the pipeline until the context ends, then shuts everything
// down and closes the stores.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	a.cron.Start()
	defer a.cron.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { return a.refresher.Run(ctx) })
	g.Go(func() error {
		a.flushPBs(ctx)
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// flushPBs drains team-boss kill times whose coalescing window elapsed.
func (a *App) flushPBs(ctx context.Context) {
	ticker := time.NewTicker(pbFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.processor.FlushDuePBs(ctx)
		}
	}
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = err
	}
	if err := a.rdb.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
