// Package sweeper parses sweeper command flags and runs the expiry loop.
package sweeper

import (
	"context"
	"flag"
	"log"
	"time"

	resumecmd "github.com/louisbranch/gammon.space/internal/cmd/resume"
	entrypoint "github.com/louisbranch/gammon.space/internal/platform/cmd"
	"github.com/louisbranch/gammon.space/internal/resume/registry"
	"github.com/louisbranch/gammon.space/internal/resume/sweeper"
)

// Config holds sweeper service configuration.
type Config struct {
	Driver           string        `env:"GAMMON_SPACE_RESUME_DB_DRIVER" envDefault:"sqlite"`
	DBPath           string        `env:"GAMMON_SPACE_RESUME_DB_PATH" envDefault:"resume.db"`
	HeartbeatTimeout time.Duration `env:"GAMMON_SPACE_RESUME_HEARTBEAT_TIMEOUT" envDefault:"90s"`
	// Interval between sweeps; zero means sweep once and exit.
	Interval time.Duration `env:"GAMMON_SPACE_SWEEPER_INTERVAL" envDefault:"1m"`
	// Once runs a single sweep and exits, for cron-style deployments.
	Once bool `env:"GAMMON_SPACE_SWEEPER_ONCE"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Storage driver: sqlite, bbolt, or memory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Storage database path")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Sweep interval")
	fs.BoolVar(&cfg.Once, "once", cfg.Once, "Run a single sweep and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the sweeper until ctx is canceled, or performs a single
// sweep when -once is set or the interval is zero. The sweeper shares the
// service's storage but needs no token codec: it only revokes and trims.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSweeper, func(ctx context.Context) error {
		store, err := resumecmd.OpenStore(cfg.Driver, cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("close store: %v", err)
			}
		}()

		reg, err := registry.New(registry.Config{
			Sessions:         store,
			Events:           store,
			HeartbeatTimeout: cfg.HeartbeatTimeout,
		})
		if err != nil {
			return err
		}

		if cfg.Once || cfg.Interval <= 0 {
			revoked, err := reg.CleanupExpiredSessions(ctx)
			if err != nil {
				return err
			}
			log.Printf("sweep revoked %d session(s)", revoked)
			return nil
		}

		sweeper.Run(ctx, reg, cfg.Interval)
		return nil
	})
}
