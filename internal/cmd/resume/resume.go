// Package resume parses resume service flags and starts the HTTP runtime.
package resume

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	entrypoint "github.com/louisbranch/gammon.space/internal/platform/cmd"
	"github.com/louisbranch/gammon.space/internal/resume/api"
	"github.com/louisbranch/gammon.space/internal/resume/registry"
	"github.com/louisbranch/gammon.space/internal/resume/sweeper"
	"github.com/louisbranch/gammon.space/internal/resume/token"
)

const shutdownTimeout = 10 * time.Second

// Config holds resume service configuration.
type Config struct {
	Port   int    `env:"GAMMON_SPACE_RESUME_PORT" envDefault:"8084"`
	Addr   string `env:"GAMMON_SPACE_RESUME_ADDR"`
	Driver string `env:"GAMMON_SPACE_RESUME_DB_DRIVER" envDefault:"sqlite"`
	DBPath string `env:"GAMMON_SPACE_RESUME_DB_PATH" envDefault:"resume.db"`
	// HeartbeatTimeout classifies sessions as stale; zero disables
	// heartbeat-based expiry.
	HeartbeatTimeout time.Duration `env:"GAMMON_SPACE_RESUME_HEARTBEAT_TIMEOUT" envDefault:"90s"`
	// TokenTTL is the default resume credential lifetime.
	TokenTTL time.Duration `env:"GAMMON_SPACE_RESUME_TOKEN_TTL" envDefault:"30m"`
	// SweepInterval controls the in-process expiry sweeper; zero disables
	// it, for deployments running the standalone sweeper instead.
	SweepInterval time.Duration `env:"GAMMON_SPACE_RESUME_SWEEP_INTERVAL" envDefault:"1m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The resume server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The resume server listen address (overrides -port)")
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Storage driver: sqlite, bbolt, or memory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Storage database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the resume HTTP service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceResume, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	store, err := OpenStore(cfg.Driver, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	tokenCfg, err := token.LoadConfigFromEnv(nil)
	if err != nil {
		return err
	}
	codec, err := token.New(tokenCfg)
	if err != nil {
		return err
	}

	reg, err := registry.New(registry.Config{
		Codec:            codec,
		Sessions:         store,
		Events:           store,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		TokenTTL:         cfg.TokenTTL,
	})
	if err != nil {
		return err
	}

	if cfg.SweepInterval > 0 {
		cancelSweep, sweepDone := sweeper.Start(reg, cfg.SweepInterval)
		defer func() {
			cancelSweep()
			<-sweepDone
		}()
	}

	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Port)
	}
	server := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(reg).Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
