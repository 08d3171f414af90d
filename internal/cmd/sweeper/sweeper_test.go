package sweeper

import (
	"context"
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("sweeper", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Interval != time.Minute {
		t.Fatalf("expected 1m interval, got %v", cfg.Interval)
	}
	if cfg.Once {
		t.Fatal("expected loop mode by default")
	}
}

func TestRunZeroIntervalSweepsOnceAndExits(t *testing.T) {
	cfg := Config{Driver: "memory", Interval: 0}

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), cfg)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected a single sweep and exit with a zero interval")
	}
}

func TestParseConfigOnce(t *testing.T) {
	fs := flag.NewFlagSet("sweeper", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-once", "-interval", "5m", "-driver", "bbolt"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !cfg.Once || cfg.Interval != 5*time.Minute || cfg.Driver != "bbolt" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
