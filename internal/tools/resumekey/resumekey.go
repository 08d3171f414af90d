// Package resumekey generates signing keys for resume credentials.
package resumekey

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
)

// Config holds configuration for resume key generation.
type Config struct {
	// Seed emits only the 32-byte seed instead of the full private key.
	Seed bool
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.BoolVar(&cfg.Seed, "seed", cfg.Seed, "emit the 32-byte seed instead of the full private key")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates an ed25519 key and writes it to out in env-file form.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}

	_, private, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	material := []byte(private)
	if cfg.Seed {
		material = private.Seed()
	}
	_, err = fmt.Fprintf(out, "GAMMON_SPACE_RESUME_TOKEN_PRIVATE_KEY=%s\n",
		base64.StdEncoding.EncodeToString(material))
	return err
}
