package main

import (
	"flag"
	"os"

	"github.com/louisbranch/gammon.space/internal/platform/config"
	"github.com/louisbranch/gammon.space/internal/tools/resumekey"
)

func main() {
	cfg, err := resumekey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := resumekey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
