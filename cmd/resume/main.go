package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	resumecmd "github.com/louisbranch/gammon.space/internal/cmd/resume"
)

func main() {
	cfg, err := resumecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[RESUME] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := resumecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
