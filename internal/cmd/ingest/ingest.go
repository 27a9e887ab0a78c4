// Package ingest parses ingest command flags and launches the ingest runtime.
package ingest

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/DropTracker-io/droptracker-core/internal/app"
	entrypoint "github.com/DropTracker-io/droptracker-core/internal/platform/cmd"
)

// Config holds ingest command configuration.
type Config struct {
	Port              int    `env:"API_PORT" envDefault:"31323"`
	DBPath            string `env:"DB_PATH" envDefault:"data/droptracker.db"`
	DBUser            string `env:"DB_USER"`
	DBPass            string `env:"DB_PASS"`
	RedisAddr         string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword     string `env:"REDIS_PASS"`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	JWTKey            string `env:"JWT_TOKEN_KEY"`
	Footer            string `env:"DISCORD_MESSAGE_FOOTER"`
	PointsDivisor     int64  `env:"POINTS_DIVISOR"`
	AttachRoot        string `env:"ATTACH_ROOT"`
	AttachBaseURL     string `env:"ATTACH_BASE_URL"`
	MetadataBaseURL   string `env:"METADATA_BASE_URL"`
	SemanticBaseURL   string `env:"SEMANTIC_BASE_URL"`
	PriceBaseURL      string `env:"PRICE_BASE_URL"`
	GroupSyncSchedule string `env:"GROUP_SYNC_SCHEDULE"`
	GroupSyncSilent   bool   `env:"GROUP_SYNC_SILENT"`
	QueueLength       int    `env:"QUEUE_LENGTH"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The ingest HTTP server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "The Redis server address")
	fs.StringVar(&cfg.AttachRoot, "attach-root", cfg.AttachRoot, "Attachment storage directory (empty disables uploads)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the ingest runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceIngest, func(ctx context.Context) error {
		// Server-database credentials are accepted for compatibility; the
		// embedded store does not use them.
		if cfg.DBUser != "" || cfg.DBPass != "" {
			log.Printf("DB_USER/DB_PASS set but the store is embedded SQLite; ignoring")
		}
		runtime, err := app.New(app.Config{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			DBPath:            cfg.DBPath,
			RedisAddr:         cfg.RedisAddr,
			RedisPassword:     cfg.RedisPassword,
			RedisDB:           cfg.RedisDB,
			JWTKey:            cfg.JWTKey,
			Footer:            cfg.Footer,
			PointsDivisor:     cfg.PointsDivisor,
			AttachRoot:        cfg.AttachRoot,
			AttachBaseURL:     cfg.AttachBaseURL,
			MetadataBaseURL:   cfg.MetadataBaseURL,
			SemanticBaseURL:   cfg.SemanticBaseURL,
			PriceBaseURL:      cfg.PriceBaseURL,
			GroupSyncSchedule: cfg.GroupSyncSchedule,
			GroupSyncSilent:   cfg.GroupSyncSilent,
			QueueLength:       cfg.QueueLength,
		})
		if err != nil {
			return err
		}
		return runtime.Run(ctx)
	})
}
